package peerstore_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/renproject/rendezvous/peerstore"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {
	var dir string
	var mock *clock.Mock

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "peerstore")
		Expect(err).ToNot(HaveOccurred())
		mock = clock.NewMock()
		mock.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	newStore := func(path string) *peerstore.Store {
		return peerstore.New(peerstore.DefaultOptions().WithClock(mock).WithPath(path))
	}

	record := func(ip, namespace, name string, port, ttl int) peerstore.Record {
		return peerstore.Record{
			IP:        ip,
			Port:      port,
			Name:      name,
			Namespace: namespace,
			TTL:       ttl,
			Timestamp: mock.Now(),
		}
	}

	Context("when upserting the same key twice", func() {
		It("should keep one record with the latest values", func() {
			store := newStore(filepath.Join(dir, "peers.json"))
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 10))).To(Succeed())
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 6001, 20))).To(Succeed())

			records := store.List("ns1")
			Expect(records).To(HaveLen(1))
			Expect(records[0].Port).To(Equal(6001))
			Expect(records[0].TTL).To(Equal(20))
		})

		It("should keep records with different keys apart", func() {
			store := newStore("")
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 10))).To(Succeed())
			Expect(store.Upsert(record("203.0.113.6", "ns1", "peerA", 5001, 10))).To(Succeed())
			Expect(store.Upsert(record("203.0.113.5", "ns2", "peerA", 5001, 10))).To(Succeed())
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerB", 5001, 10))).To(Succeed())
			Expect(store.Len()).To(Equal(4))
			Expect(store.List("ns1")).To(HaveLen(3))
			Expect(store.List("")).To(HaveLen(4))
		})
	})

	Context("when records expire", func() {
		It("should be live until the ttl has fully elapsed", func() {
			store := newStore("")
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 1))).To(Succeed())

			mock.Add(time.Second)
			Expect(store.List("ns1")).To(HaveLen(1))

			mock.Add(time.Millisecond)
			Expect(store.List("ns1")).To(BeEmpty())
			Expect(store.Len()).To(Equal(0))
		})

		It("should report the remaining whole seconds", func() {
			r := record("203.0.113.5", "ns1", "peerA", 5001, 10)
			Expect(r.ExpiresIn(mock.Now())).To(Equal(10))
			Expect(r.ExpiresIn(mock.Now().Add(500 * time.Millisecond))).To(Equal(9))
			Expect(r.ExpiresIn(mock.Now().Add(11 * time.Second))).To(Equal(0))
		})
	})

	Context("when removing records", func() {
		var store *peerstore.Store

		BeforeEach(func() {
			store = newStore(filepath.Join(dir, "peers.json"))
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 60))).To(Succeed())
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerB", 5002, 60))).To(Succeed())
			Expect(store.Upsert(record("203.0.113.5", "ns2", "peerA", 5001, 60))).To(Succeed())
			Expect(store.Upsert(record("198.51.100.1", "ns1", "peerC", 5001, 60))).To(Succeed())
		})

		It("should remove everything from the ip in the namespace", func() {
			n, err := store.Remove("203.0.113.5", "ns1", peerstore.Filter{})
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(store.List("ns1")).To(HaveLen(1))
			Expect(store.List("ns2")).To(HaveLen(1))
		})

		It("should narrow the removal by name", func() {
			n, err := store.Remove("203.0.113.5", "ns1", peerstore.Filter{}.WithName("peerB"))
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(store.List("ns1")).To(HaveLen(2))
		})

		It("should narrow the removal by port", func() {
			n, err := store.Remove("203.0.113.5", "ns1", peerstore.Filter{}.WithPort(5001))
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(1))

			n, err = store.Remove("203.0.113.5", "ns1", peerstore.Filter{}.WithName("peerB").WithPort(5001))
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(0))
		})

		It("should not fail when nothing matches", func() {
			n, err := store.Remove("192.0.2.1", "ns1", peerstore.Filter{})
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(0))
			Expect(store.Len()).To(Equal(4))
		})
	})

	Context("when reloading the snapshot", func() {
		It("should recover the live records", func() {
			path := filepath.Join(dir, "peers.json")
			store := newStore(path)
			for i := 0; i < 10; i++ {
				Expect(store.Upsert(record("203.0.113.5", "ns1", fmt.Sprintf("peer%d", i), 5000+i, 10+i))).To(Succeed())
			}
			_, err := store.Remove("203.0.113.5", "ns1", peerstore.Filter{}.WithName("peer3"))
			Expect(err).ToNot(HaveOccurred())

			reloaded := newStore(path)
			Expect(cmp.Diff(store.List(""), reloaded.List(""))).To(BeEmpty())

			mock.Add(15 * time.Second)
			Expect(cmp.Diff(store.List(""), reloaded.List(""))).To(BeEmpty())
			Expect(reloaded.Len()).To(Equal(5))
		})

		It("should not leave the temporary file behind", func() {
			path := filepath.Join(dir, "peers.json")
			store := newStore(path)
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 10))).To(Succeed())
			_, err := os.Stat(path + ".tmp")
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("should write an empty array when there are no records", func() {
			path := filepath.Join(dir, "peers.json")
			store := newStore(path)
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 10))).To(Succeed())
			n, err := store.Remove("203.0.113.5", "ns1", peerstore.Filter{})
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(1))
			data, err := os.ReadFile(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(data)).To(Equal("[]\n"))
		})
	})

	Context("when the snapshot is missing", func() {
		It("should start empty", func() {
			store := newStore(filepath.Join(dir, "missing", "peers.json"))
			Expect(store.Len()).To(Equal(0))
		})
	})

	Context("when the snapshot is corrupted", func() {
		It("should start empty", func() {
			path := filepath.Join(dir, "peers.json")
			Expect(os.WriteFile(path, []byte(`[{"ip": "203.0.113.5",`), 0o644)).To(Succeed())
			store := newStore(path)
			Expect(store.Len()).To(Equal(0))

			// The store is still usable, and overwrites the corrupted file.
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 10))).To(Succeed())
			Expect(newStore(path).Len()).To(Equal(1))
		})

		It("should skip invalid entries", func() {
			path := filepath.Join(dir, "peers.json")
			data := `[
				{"ip":"203.0.113.5","port":5001,"name":"peerA","namespace":"ns1","ttl":60,"timestamp":"2024-01-01T12:00:00Z"},
				{"ip":"203.0.113.5","port":0,"name":"peerB","namespace":"ns1","ttl":60,"timestamp":"2024-01-01T12:00:00Z"},
				{"ip":"203.0.113.5","port":5003,"name":"peerC","namespace":"ns1","ttl":60,"timestamp":"yesterday"},
				"garbage"
			]`
			Expect(os.WriteFile(path, []byte(data), 0o644)).To(Succeed())
			records := newStore(path).List("")
			Expect(records).To(HaveLen(1))
			Expect(records[0].Name).To(Equal("peerA"))
		})
	})

	Context("when the snapshot uses older timestamp formats", func() {
		It("should accept epoch seconds and zone-less text", func() {
			path := filepath.Join(dir, "peers.json")
			epoch := mock.Now().Unix()
			data := fmt.Sprintf(`[
				{"ip":"203.0.113.5","port":5001,"name":"peerA","namespace":"ns1","ttl":60,"timestamp":%d.5},
				{"ip":"203.0.113.5","port":5002,"name":"peerB","namespace":"ns1","ttl":60,"timestamp":"2024-01-01T12:00:00.250000"},
				{"ip":"203.0.113.5","port":5003,"name":"peerC","namespace":"ns1","ttl":60,"timestamp":"2024-01-01T12:00:00+00:00"}
			]`, epoch)
			Expect(os.WriteFile(path, []byte(data), 0o644)).To(Succeed())

			records := newStore(path).List("ns1")
			Expect(records).To(HaveLen(3))
			Expect(records[0].Timestamp.Equal(mock.Now().Add(500 * time.Millisecond))).To(BeTrue())
			Expect(records[1].Timestamp.Equal(mock.Now().Add(250 * time.Millisecond))).To(BeTrue())
			Expect(records[2].Timestamp.Equal(mock.Now())).To(BeTrue())
		})

		It("should keep the latest of duplicated keys", func() {
			path := filepath.Join(dir, "peers.json")
			data := `[
				{"ip":"203.0.113.5","port":5002,"name":"peerA","namespace":"ns1","ttl":60,"timestamp":"2024-01-01T12:00:00Z"},
				{"ip":"203.0.113.5","port":5001,"name":"peerA","namespace":"ns1","ttl":60,"timestamp":"2024-01-01T11:59:59Z"}
			]`
			Expect(os.WriteFile(path, []byte(data), 0o644)).To(Succeed())
			records := newStore(path).List("ns1")
			Expect(records).To(HaveLen(1))
			Expect(records[0].Port).To(Equal(5002))
		})
	})

	Context("when the snapshot cannot be written", func() {
		It("should roll back the change and return an error", func() {
			// Renaming a file over a non-empty directory always fails.
			path := filepath.Join(dir, "blocked")
			Expect(os.MkdirAll(filepath.Join(path, "child"), 0o755)).To(Succeed())
			store := newStore(path)

			err := store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 10))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(HavePrefix("persisting peers"))
			Expect(store.Len()).To(Equal(0))
		})

		It("should restore removed records and return an error", func() {
			path := filepath.Join(dir, "peers.json")
			store := newStore(path)
			Expect(store.Upsert(record("203.0.113.5", "ns1", "peerA", 5001, 10))).To(Succeed())
			Expect(os.Remove(path)).To(Succeed())
			Expect(os.MkdirAll(filepath.Join(path, "child"), 0o755)).To(Succeed())

			n, err := store.Remove("203.0.113.5", "ns1", peerstore.Filter{})
			Expect(err).To(HaveOccurred())
			Expect(n).To(Equal(0))
			Expect(store.Len()).To(Equal(1))
		})
	})

	Context("when upserting concurrently", func() {
		It("should persist every record", func() {
			path := filepath.Join(dir, "peers.json")
			store := newStore(path)

			wg := new(sync.WaitGroup)
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(store.Upsert(record("203.0.113.5", "ns1", fmt.Sprintf("peer%d", i), 5000+i, 60))).To(Succeed())
				}(i)
			}
			wg.Wait()

			Expect(store.Len()).To(Equal(32))
			Expect(newStore(path).Len()).To(Equal(32))
		})
	})
})
