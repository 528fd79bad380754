// Package registry implements the process-wide set of live RTSP
// clients. It is deliberately a plain mutex-guarded slice rather than
// a channel-mediated actor: a channel-queued register/unregister pair
// cannot make ForEach atomic with respect to concurrent
// register/unregister without routing ForEach itself through the same
// channel. One mutex, held for the entirety of an iteration, is
// simpler and gives every ForEach caller a consistent snapshot.
package registry

import "sync"

// Registry is a dynamic ordered collection of live client references,
// guarded by one mutex. Registry order carries no semantic meaning.
type Registry[T comparable] struct {
	mu      sync.Mutex
	clients []T
}

// New creates an empty Registry.
func New[T comparable]() *Registry[T] {
	return &Registry[T]{}
}

// Register appends client to the registry.
func (r *Registry[T]) Register(client T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = append(r.clients, client)
}

// Unregister removes the first match for client by identity. Swap with
// last is used since registry order is not semantically significant.
func (r *Registry[T]) Unregister(client T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.clients {
		if c == client {
			last := len(r.clients) - 1
			r.clients[i] = r.clients[last]
			var zero T
			r.clients[last] = zero
			r.clients = r.clients[:last]
			return
		}
	}
}

// ForEach holds the registry's mutex for the entire iteration and
// invokes fn once per currently registered client, so a concurrent
// Register or Unregister either fully precedes or fully follows the
// call.
func (r *Registry[T]) ForEach(fn func(client T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		fn(c)
	}
}

// Len returns the number of currently registered clients.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
