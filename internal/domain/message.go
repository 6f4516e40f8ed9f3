package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

func init() {
	validatorInstance.RegisterStructValidation(validateDraftContent, Draft{})
}

// validateDraftContent rejects drafts that have neither text nor an attachment.
func validateDraftContent(sl validator.StructLevel) {
	d := sl.Current().Interface().(Draft)
	if d.Text == "" && d.AttachmentURL == nil {
		sl.ReportError(d.Text, "Text", "text", "text_or_attachment", "")
	}
}

type (
	// MessageID is the opaque identifier the store assigns on creation.
	MessageID string
	// UserID identifies a user as reported by the identity provider.
	UserID string
)

// Reactions maps a user to the single symbol they reacted with.
type Reactions map[UserID]string

// Clone returns an independent copy. A nil map clones to an empty one.
func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same entries. Nil and empty are equal.
func (r Reactions) Equal(other Reactions) bool {
	if len(r) != len(other) {
		return false
	}
	for k, v := range r {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ReplyRef is a denormalized quote of a parent message taken at reply time.
// It is a copy, not a reference, so it survives later changes to the parent.
type ReplyRef struct {
	ID                MessageID `json:"id" validate:"required"`
	Text              string    `json:"text"`
	AuthorDisplayName string    `json:"displayName"`
	AuthorPhotoURL    string    `json:"photoURL"`
}

// Identity is the acting user as supplied by the identity provider.
type Identity struct {
	UID         UserID `json:"uid" validate:"required"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// Message is one entry of the shared log. Only Reactions changes after creation.
type Message struct {
	ID                MessageID `json:"id"`
	Text              string    `json:"text"`
	CreatedAt         time.Time `json:"createdAt"`
	AuthorID          UserID    `json:"uid"`
	AuthorDisplayName string    `json:"displayName"`
	AuthorPhotoURL    string    `json:"photoURL"`
	ReplyTo           *ReplyRef `json:"replyTo"`
	Reactions         Reactions `json:"reactions"`
	AttachmentURL     *string   `json:"attachmentUrl"`
}

// ReactionOf returns the symbol the given user reacted with, if any.
func (m Message) ReactionOf(uid UserID) (string, bool) {
	s, ok := m.Reactions[uid]
	return s, ok
}

// IsFrom reports whether the message was sent by uid.
func (m Message) IsFrom(uid UserID) bool {
	return m.AuthorID == uid
}

// HasAttachment reports whether the message references an uploaded blob.
func (m Message) HasAttachment() bool {
	return m.AttachmentURL != nil
}

// Clone returns a deep copy so callers can hand messages out without sharing maps.
func (m Message) Clone() Message {
	out := m
	out.Reactions = m.Reactions.Clone()
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		out.ReplyTo = &ref
	}
	if m.AttachmentURL != nil {
		u := *m.AttachmentURL
		out.AttachmentURL = &u
	}
	return out
}

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}

// Draft is a message that has not been persisted yet. The store assigns
// ID and CreatedAt, so a draft has neither.
type Draft struct {
	Text              string    `json:"text"`
	AuthorID          UserID    `json:"uid" validate:"required"`
	AuthorDisplayName string    `json:"displayName"`
	AuthorPhotoURL    string    `json:"photoURL"`
	ReplyTo           *ReplyRef `json:"replyTo"`
	Reactions         Reactions `json:"reactions"`
	AttachmentURL     *string   `json:"attachmentUrl"`
}

// NewDraft builds a draft authored by the given identity with an empty reaction map.
func NewDraft(author Identity, text string) Draft {
	return Draft{
		Text:              text,
		AuthorID:          author.UID,
		AuthorDisplayName: author.DisplayName,
		AuthorPhotoURL:    author.PhotoURL,
		Reactions:         Reactions{},
	}
}

// Validate runs validation checks on the draft. A draft with empty text and
// no attachment is never publishable.
func (d Draft) Validate() error {
	if err := validatorInstance.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "text_or_attachment" {
					return ErrInvalidDraft
				}
			}
		}
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return nil
}

// Materialize turns the draft into a message with the server-assigned fields.
func (d Draft) Materialize(id MessageID, createdAt time.Time) Message {
	msg := Message{
		ID:                id,
		Text:              d.Text,
		CreatedAt:         createdAt,
		AuthorID:          d.AuthorID,
		AuthorDisplayName: d.AuthorDisplayName,
		AuthorPhotoURL:    d.AuthorPhotoURL,
		ReplyTo:           d.ReplyTo,
		Reactions:         d.Reactions,
		AttachmentURL:     d.AttachmentURL,
	}
	return msg.Clone()
}
