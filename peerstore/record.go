package peerstore

import (
	"time"
)

// A Record is one peer's current registration under a namespace.
type Record struct {
	// IP is the address observed on the registering connection. It is never
	// taken from the client.
	IP        string
	Port      int
	Name      string
	Namespace string
	// TTL in seconds.
	TTL       int
	Timestamp time.Time
}

// A Key identifies a Record. Registering a Record with the same Key as an
// existing Record replaces it.
type Key struct {
	IP        string
	Namespace string
	Name      string
}

// Key returns the identity of the Record.
func (record Record) Key() Key {
	return Key{IP: record.IP, Namespace: record.Namespace, Name: record.Name}
}

// ExpiresAt returns the last instant at which the Record is live.
func (record Record) ExpiresAt() time.Time {
	return record.Timestamp.Add(time.Duration(record.TTL) * time.Second)
}

// IsLive returns true if the Record has not expired at the given instant. A
// Record is live up to and including its expiry instant.
func (record Record) IsLive(now time.Time) bool {
	return !now.After(record.ExpiresAt())
}

// ExpiresIn returns the number of whole seconds until the Record expires. It
// is never negative.
func (record Record) ExpiresIn(now time.Time) int {
	remaining := record.ExpiresAt().Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// A Filter narrows the Records removed by Store.Remove. Nil fields match
// everything.
type Filter struct {
	Name *string
	Port *int
}

// WithName returns a copy of the Filter that only matches the given name.
func (filter Filter) WithName(name string) Filter {
	filter.Name = &name
	return filter
}

// WithPort returns a copy of the Filter that only matches the given port.
func (filter Filter) WithPort(port int) Filter {
	filter.Port = &port
	return filter
}

func (filter Filter) match(record Record) bool {
	if filter.Name != nil && *filter.Name != record.Name {
		return false
	}
	if filter.Port != nil && *filter.Port != record.Port {
		return false
	}
	return true
}
