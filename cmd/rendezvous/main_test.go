package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/renproject/rendezvous/tcp"
	"github.com/renproject/rendezvous/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// freePort returns a loopback port that was free a moment ago.
func freePort() int {
	listener, port, err := tcp.ListenerWithAssignedPort(context.Background(), net.ParseIP("127.0.0.1"), 1)
	Expect(err).ToNot(HaveOccurred())
	Expect(listener.Close()).To(Succeed())
	return port
}

var _ = Describe("Command", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "rendezvous")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	run := func(ctx context.Context, args ...string) (string, error) {
		out := new(bytes.Buffer)
		cmd := rootCommand()
		cmd.SetArgs(args)
		cmd.SetOut(out)
		cmd.SetErr(io.Discard)
		err := cmd.ExecuteContext(ctx)
		return out.String(), err
	}

	It("should serve clients and metrics until it is stopped", func() {
		port := freePort()
		metricsPort := freePort()
		server := fmt.Sprintf("127.0.0.1:%v", port)
		db := filepath.Join(dir, "peers.json")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() {
			_, err := run(ctx,
				"--host", "127.0.0.1",
				"--port", fmt.Sprint(port),
				"--db", db,
				"--log-mode", "file",
				"--log-file", filepath.Join(dir, "server.log"),
				"--metrics-addr", fmt.Sprintf("127.0.0.1:%v", metricsPort))
			done <- err
		}()

		out, err := run(context.Background(), "register", "--server", server, "--namespace", "ns1", "--name", "peerA", "--peer-port", "5001", "--ttl", "60")
		Expect(err).ToNot(HaveOccurred())
		reg := wire.RegisterResponse{}
		Expect(json.Unmarshal([]byte(out), &reg)).To(Succeed())
		Expect(reg).To(Equal(wire.RegisterResponse{TTL: 60, IP: "127.0.0.1", Port: 5001}))

		out, err = run(context.Background(), "discover", "--server", server, "--namespace", "ns1")
		Expect(err).ToNot(HaveOccurred())
		peers := []wire.PeerInfo{}
		Expect(json.Unmarshal([]byte(out), &peers)).To(Succeed())
		Expect(peers).To(HaveLen(1))
		Expect(peers[0].Name).To(Equal("peerA"))

		Eventually(func() string {
			resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%v/metrics", metricsPort))
			if err != nil {
				return ""
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return string(body)
		}).Should(ContainSubstring(`rendezvous_requests_total{status="OK",type="REGISTER"} 1`))

		_, err = run(context.Background(), "unregister", "--server", server, "--namespace", "ns1", "--name", "peerA")
		Expect(err).ToNot(HaveOccurred())

		cancel()
		Eventually(done, "10s").Should(Receive(BeNil()))

		data, err := os.ReadFile(db)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(Equal("[]\n"))
	})

	It("should fail on invalid configuration", func() {
		_, err := run(context.Background(), "--log-mode", "syslog")
		Expect(err).To(HaveOccurred())
	})
})
