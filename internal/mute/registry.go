// Package mute tracks users the agent must not answer. Membership lives in
// memory only and is lost on restart.
package mute

import (
	"sort"
	"sync"
)

// Registry is a concurrency-safe set of muted user IDs.
type Registry struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]struct{})}
}

// Mute adds userID. Muting twice is a no-op.
func (r *Registry) Mute(userID string) {
	r.mu.Lock()
	r.users[userID] = struct{}{}
	r.mu.Unlock()
}

// Unmute removes userID and reports whether it was muted.
func (r *Registry) Unmute(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[userID]
	delete(r.users, userID)
	return ok
}

// IsMuted reports whether the agent must stay silent for userID.
func (r *Registry) IsMuted(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// List returns the muted user IDs in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
