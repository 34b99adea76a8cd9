// Package presence tracks which users are currently connected.
package presence

import "drawing-board/internal/identity"

// Registry is an insertion-ordered set of users keyed by id. It is not
// safe for concurrent use; the relay's dispatch loop owns it.
type Registry struct {
	users []identity.User
	index map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register inserts user, or refreshes the display fields of the record
// already held for user.ID. It returns the effective record and whether
// it was newly inserted.
func (r *Registry) Register(user identity.User) (identity.User, bool) {
	if i, ok := r.index[user.ID]; ok {
		r.users[i].Username = user.Username
		r.users[i].Color = user.Color
		return r.users[i], false
	}

	r.index[user.ID] = len(r.users)
	r.users = append(r.users, user)
	return user, true
}

// Unregister removes id. It reports whether a record was removed.
func (r *Registry) Unregister(id string) bool {
	i, ok := r.index[id]
	if !ok {
		return false
	}

	r.users = append(r.users[:i], r.users[i+1:]...)
	delete(r.index, id)
	for j := i; j < len(r.users); j++ {
		r.index[r.users[j].ID] = j
	}
	return true
}

func (r *Registry) Get(id string) (identity.User, bool) {
	i, ok := r.index[id]
	if !ok {
		return identity.User{}, false
	}
	return r.users[i], true
}

func (r *Registry) IsConnected(id string) bool {
	_, ok := r.index[id]
	return ok
}

// List returns a copy of the connected users in insertion order.
func (r *Registry) List() []identity.User {
	out := make([]identity.User, len(r.users))
	copy(out, r.users)
	return out
}

func (r *Registry) Len() int { return len(r.users) }
