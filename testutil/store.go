package testutil

import (
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/renproject/rendezvous/peerstore"
)

// NewStore returns a Store persisted in a fresh temporary directory, and a
// function that removes the directory.
func NewStore(clock clock.Clock) (*peerstore.Store, func()) {
	dir, err := os.MkdirTemp("", "rendezvous")
	if err != nil {
		panic(err)
	}
	opts := peerstore.DefaultOptions().
		WithClock(clock).
		WithPath(filepath.Join(dir, "peers.json"))
	return peerstore.New(opts), func() { os.RemoveAll(dir) }
}
