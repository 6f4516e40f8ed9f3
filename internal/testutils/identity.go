package testutils

import (
	"github.com/google/uuid"
	"github.com/nfrund/roomsync/internal/domain"
)

// NewTestIdentity returns an identity with a unique UID so tests sharing a
// database never see each other's reactions.
func NewTestIdentity(displayName string) domain.Identity {
	return domain.Identity{
		UID:         domain.UserID(displayName + "-" + uuid.NewString()[:8]),
		DisplayName: displayName,
	}
}
