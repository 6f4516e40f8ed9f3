// Package reply captures quotes of parent messages for reply threads.
package reply

import "github.com/nfrund/roomsync/internal/domain"

// Snapshot copies the quoted fields of m. The result shares no memory with m,
// so later changes to the parent (reactions included) never reach the quote.
func Snapshot(m domain.Message) domain.ReplyRef {
	return domain.ReplyRef{
		ID:                m.ID,
		Text:              m.Text,
		AuthorDisplayName: m.AuthorDisplayName,
		AuthorPhotoURL:    m.AuthorPhotoURL,
	}
}

// Of returns a snapshot of m as a pointer, or nil when m is nil.
func Of(m *domain.Message) *domain.ReplyRef {
	if m == nil {
		return nil
	}
	ref := Snapshot(*m)
	return &ref
}
