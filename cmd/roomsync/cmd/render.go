package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/nfrund/roomsync/internal/domain"
	"github.com/nfrund/roomsync/internal/reaction"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const timeLayout = "15:04:05"

var titleCaser = cases.Title(language.Und)

// greeting introduces the signed-in user.
func greeting(self domain.Identity) string {
	name := strings.TrimSpace(self.DisplayName)
	if name == "" {
		name = string(self.UID)
	}
	return fmt.Sprintf("Signed in as %s (%s)", titleCaser.String(name), self.UID)
}

// displayName falls back to the user id when no name was recorded.
func displayName(name string, uid domain.UserID) string {
	if name == "" {
		return string(uid)
	}
	return name
}

// renderLog writes the whole transcript as seen by self.
func renderLog(w io.Writer, msgs []domain.Message, self domain.UserID, palette []string) {
	fmt.Fprintf(w, "--- %d message(s) ---\n", len(msgs))
	for _, m := range msgs {
		renderMessage(w, m, self, palette)
	}
}

func renderMessage(w io.Writer, m domain.Message, self domain.UserID, palette []string) {
	author := displayName(m.AuthorDisplayName, m.AuthorID)
	if m.IsFrom(self) {
		author += " (you)"
	}
	fmt.Fprintf(w, "[%s] %s  %s: %s\n", m.CreatedAt.Local().Format(timeLayout), m.ID, author, m.Text)

	if m.ReplyTo != nil {
		fmt.Fprintf(w, "    > %s: %q\n", displayName(m.ReplyTo.AuthorDisplayName, ""), m.ReplyTo.Text)
	}
	if m.HasAttachment() {
		fmt.Fprintf(w, "    attachment: %s\n", *m.AttachmentURL)
	}

	groups := reaction.GroupBy(m.Reactions, palette)
	if len(groups) == 0 {
		return
	}
	mine, _ := m.ReactionOf(self)
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		part := fmt.Sprintf("%s %d", g.Symbol, g.Count)
		if g.Symbol == mine {
			part = "[" + part + "]"
		}
		parts = append(parts, part)
	}
	fmt.Fprintf(w, "    %s\n", strings.Join(parts, "  "))
}
