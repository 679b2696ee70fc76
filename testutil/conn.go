// Package testutil provides helpers shared by the tests of the rendezvous
// packages.
package testutil

import (
	"net"
)

// A Conn is one end of an in-memory connection that reports a chosen remote
// address. It is used to exercise code that identifies clients by their
// observed IP-address without opening sockets.
type Conn struct {
	net.Conn

	remote net.Addr
	peer   net.Conn
}

// NewConn returns the server end of an in-memory connection whose remote
// address is the given host:port. It panics if the address cannot be
// parsed.
func NewConn(remote string) *Conn {
	addr, err := net.ResolveTCPAddr("tcp", remote)
	if err != nil {
		panic(err)
	}
	server, client := net.Pipe()
	return &Conn{Conn: server, remote: addr, peer: client}
}

// RemoteAddr returns the address given to NewConn.
func (conn *Conn) RemoteAddr() net.Addr {
	return conn.remote
}

// Peer returns the client end of the connection.
func (conn *Conn) Peer() net.Conn {
	return conn.peer
}

// Close both ends of the connection.
func (conn *Conn) Close() error {
	conn.peer.Close()
	return conn.Conn.Close()
}
