// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package network

import "sync"

// SocketKey identifies a socket across polls: its full tuple plus its state.
// A LISTEN socket and an ESTABLISHED socket on the same port are distinct.
type SocketKey struct {
	ConnectionTuple
	State TCPState
}

// KeyOf returns the tracking key of a record
func KeyOf(s SocketRecord) SocketKey {
	return SocketKey{ConnectionTuple: s.ConnectionTuple, State: s.State}
}

// Snapshot is the immutable set of sockets seen in one poll, in the order
// they were read
type Snapshot struct {
	order   []SocketKey
	sockets map[SocketKey]AttributedSocket
}

// NewSnapshot indexes sockets by key. When several sockets share a key the
// first one is kept.
func NewSnapshot(sockets []AttributedSocket) Snapshot {
	s := Snapshot{
		order:   make([]SocketKey, 0, len(sockets)),
		sockets: make(map[SocketKey]AttributedSocket, len(sockets)),
	}
	for _, sock := range sockets {
		k := KeyOf(sock.SocketRecord)
		if _, ok := s.sockets[k]; ok {
			continue
		}
		s.order = append(s.order, k)
		s.sockets[k] = sock
	}
	return s
}

// Len returns the number of distinct sockets
func (s Snapshot) Len() int {
	return len(s.order)
}

// Contains returns true if a socket with key k is in the snapshot
func (s Snapshot) Contains(k SocketKey) bool {
	_, ok := s.sockets[k]
	return ok
}

// Get returns the socket with key k
func (s Snapshot) Get(k SocketKey) (AttributedSocket, bool) {
	sock, ok := s.sockets[k]
	return sock, ok
}

// Sockets returns the sockets in the order they were read
func (s Snapshot) Sockets() []AttributedSocket {
	out := make([]AttributedSocket, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.sockets[k])
	}
	return out
}

// Delta is the difference between two snapshots
type Delta struct {
	Opened    []AttributedSocket
	Closed    []AttributedSocket
	Unchanged []AttributedSocket
}

// Diff computes the set difference between prev and cur. It is a pure
// function of its two arguments.
//
// A socket closed and reopened on the same tuple between the two polls
// cannot be told apart from an unchanged one and lands in Unchanged.
func Diff(prev, cur Snapshot) Delta {
	var d Delta
	for _, k := range cur.order {
		if prev.Contains(k) {
			d.Unchanged = append(d.Unchanged, cur.sockets[k])
		} else {
			d.Opened = append(d.Opened, cur.sockets[k])
		}
	}
	for _, k := range prev.order {
		if !cur.Contains(k) {
			d.Closed = append(d.Closed, prev.sockets[k])
		}
	}
	return d
}

// Tracker carries the previous snapshot of one socket source from poll to
// poll
type Tracker struct {
	mu   sync.Mutex
	prev Snapshot
}

// NewTracker returns a tracker with an empty previous snapshot
func NewTracker() *Tracker {
	return &Tracker{prev: NewSnapshot(nil)}
}

// Diff compares cur with the committed snapshot without committing it
func (t *Tracker) Diff(cur []AttributedSocket) (Delta, Snapshot) {
	next := NewSnapshot(cur)

	t.mu.Lock()
	prev := t.prev
	t.mu.Unlock()

	return Diff(prev, next), next
}

// Commit makes s the previous snapshot for the next poll
func (t *Tracker) Commit(s Snapshot) {
	t.mu.Lock()
	t.prev = s
	t.mu.Unlock()
}

// Update diffs and commits in one step
func (t *Tracker) Update(cur []AttributedSocket) Delta {
	d, next := t.Diff(cur)
	t.Commit(next)
	return d
}

// Lookup returns the socket with key k in the committed snapshot
func (t *Tracker) Lookup(k SocketKey) (AttributedSocket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prev.Get(k)
}

// Known returns the number of sockets in the committed snapshot
func (t *Tracker) Known() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prev.Len()
}
