package tcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/renproject/rendezvous/policy"
	"github.com/renproject/rendezvous/wire"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const readChunkSize = 4096

// HandleConn reads one request line, handles it, writes one response line,
// and closes the connection. The connection is closed on every path,
// including panics. Admission control is not applied; Serve does that before
// handing a connection to a worker.
func (server *Server) HandleConn(conn net.Conn) {
	remoteAddr := policy.RemoteIP(conn)
	defer server.teardown(conn, remoteAddr)
	defer func() {
		if r := recover(); r != nil {
			server.opts.Logger.Error("handling connection", zap.String("remote", remoteAddr), zap.Any("panic", r))
		}
	}()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetKeepAliveConfig(server.opts.KeepAlive); err != nil {
			server.opts.Logger.Debug("setting keep-alive", zap.String("remote", remoteAddr), zap.Error(err))
		}
	}

	var result wire.Result
	line, err := server.readLine(conn)
	if err != nil {
		server.opts.Logger.Debug("bad request line", zap.String("remote", remoteAddr), zap.Error(err))
		result = wire.Err(err)
	} else {
		result = server.handler.Handle(wire.Decode(line), remoteAddr)
	}
	server.respond(conn, remoteAddr, result)
}

// readLine reads until the first line terminator, the end of the stream, or
// until more than MaxLineSize bytes have been read without a terminator. It
// never reads more than one byte past MaxLineSize. Every read must complete
// within IdleTimeout. The returned line has surrounding whitespace removed.
func (server *Server) readLine(conn net.Conn) ([]byte, *wire.Error) {
	limit := server.opts.MaxLineSize
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(server.opts.IdleTimeout)); err != nil {
			return nil, wire.NewErrorMessage(fmt.Sprintf("setting deadline: %v", err))
		}
		n, err := conn.Read(chunk[:min(len(chunk), limit+1-len(buf))])
		buf = append(buf, chunk[:n]...)

		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			if i > limit {
				return nil, wire.ErrLineTooLong(limit)
			}
			return trimLine(buf[:i])
		}
		if len(buf) > limit {
			return nil, wire.ErrLineTooLong(limit)
		}

		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// The client half-closed without a terminator. Whatever it
				// sent is the request.
				return trimLine(buf)
			case errors.Is(err, os.ErrDeadlineExceeded):
				return nil, wire.ErrTimeout()
			default:
				return nil, wire.NewErrorMessage(fmt.Sprintf("reading request: %v", err))
			}
		}
	}
}

func trimLine(line []byte) ([]byte, *wire.Error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, wire.ErrEmptyLine()
	}
	return line, nil
}

// respond writes one response line. The client may already be gone, so
// failures are only logged.
func (server *Server) respond(conn net.Conn, remoteAddr string, result wire.Result) {
	data := append(wire.Encode(result), '\n')
	if err := conn.SetWriteDeadline(time.Now().Add(server.opts.IdleTimeout)); err != nil {
		server.opts.Logger.Debug("setting deadline", zap.String("remote", remoteAddr), zap.Error(err))
	}
	if _, err := conn.Write(data); err != nil {
		server.opts.Logger.Debug("writing response", zap.String("remote", remoteAddr), zap.Error(err))
	}
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// teardown shuts down both directions of the connection and releases it.
// Shutting down fails harmlessly when the client is already gone.
func (server *Server) teardown(conn net.Conn, remoteAddr string) {
	var err error
	if hc, ok := conn.(halfCloser); ok {
		err = multierr.Combine(hc.CloseWrite(), hc.CloseRead())
	}
	err = multierr.Append(err, conn.Close())
	if err != nil {
		server.opts.Logger.Debug("closing connection", zap.String("remote", remoteAddr), zap.Error(err))
	}
}
