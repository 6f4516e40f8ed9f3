package reply

import (
	"testing"
	"time"

	"github.com/nfrund/roomsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	parent := domain.Message{
		ID:                "m1",
		Text:              "hi",
		CreatedAt:         time.Now(),
		AuthorID:          "alice",
		AuthorDisplayName: "Alice",
		AuthorPhotoURL:    "https://img/alice",
		Reactions:         domain.Reactions{},
	}

	ref := Snapshot(parent)

	assert.Equal(t, domain.ReplyRef{
		ID:                "m1",
		Text:              "hi",
		AuthorDisplayName: "Alice",
		AuthorPhotoURL:    "https://img/alice",
	}, ref)

	// Mutating the parent afterwards leaves the quote untouched.
	parent.Reactions["bob"] = "👍"
	parent.Text = "edited"
	assert.Equal(t, "hi", ref.Text)
}

func TestOf(t *testing.T) {
	assert.Nil(t, Of(nil))

	parent := &domain.Message{ID: "m2", Text: "yo", AuthorDisplayName: "Bob"}
	ref := Of(parent)
	require.NotNil(t, ref)
	assert.Equal(t, domain.MessageID("m2"), ref.ID)
	assert.Equal(t, "Bob", ref.AuthorDisplayName)
}
