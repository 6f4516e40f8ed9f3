// Package identity supplies the acting user to a chat session.
package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/nfrund/roomsync/internal/domain"
)

// Provider returns the currently signed-in user.
type Provider interface {
	// Current returns domain.ErrNotSignedIn when nobody is signed in.
	Current(ctx context.Context) (domain.Identity, error)
}

// Static is a Provider for a single configured user that can sign out.
type Static struct {
	mu       sync.RWMutex
	identity domain.Identity
	signedIn bool
}

var _ Provider = (*Static)(nil)

// NewStatic signs in the given identity. UID must not be empty.
func NewStatic(id domain.Identity) (*Static, error) {
	if id.UID == "" {
		return nil, fmt.Errorf("%w: uid is required", domain.ErrNotSignedIn)
	}
	return &Static{identity: id, signedIn: true}, nil
}

// Current implements Provider.
func (s *Static) Current(ctx context.Context) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.signedIn {
		return domain.Identity{}, domain.ErrNotSignedIn
	}
	return s.identity, nil
}

// SignIn replaces the current identity.
func (s *Static) SignIn(id domain.Identity) error {
	if id.UID == "" {
		return fmt.Errorf("%w: uid is required", domain.ErrNotSignedIn)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.signedIn = true
	return nil
}

// SignOut makes subsequent Current calls fail with domain.ErrNotSignedIn.
func (s *Static) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedIn = false
}
