package reaction

import (
	"fmt"
	"testing"

	"github.com/nfrund/roomsync/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestToggle(t *testing.T) {
	t.Run("adds a reaction", func(t *testing.T) {
		got := Toggle(domain.Reactions{}, "bob", "👍")
		assert.Equal(t, domain.Reactions{"bob": "👍"}, got)
	})

	t.Run("same symbol removes it", func(t *testing.T) {
		got := Toggle(domain.Reactions{"bob": "👍"}, "bob", "👍")
		assert.Empty(t, got)
	})

	t.Run("different symbol switches it", func(t *testing.T) {
		got := Toggle(domain.Reactions{"bob": "👍"}, "bob", "🔥")
		assert.Equal(t, domain.Reactions{"bob": "🔥"}, got)
	})

	t.Run("nil map is treated as empty", func(t *testing.T) {
		got := Toggle(nil, "bob", "👍")
		assert.Equal(t, domain.Reactions{"bob": "👍"}, got)
	})

	t.Run("input is never mutated", func(t *testing.T) {
		in := domain.Reactions{"bob": "👍", "carol": "🎉"}
		_ = Toggle(in, "bob", "👍")
		_ = Toggle(in, "dave", "🔥")
		assert.Equal(t, domain.Reactions{"bob": "👍", "carol": "🎉"}, in)
	})
}

// fixtures covers empty maps, maps holding the acting user, and maps without them.
func fixtures() []domain.Reactions {
	return []domain.Reactions{
		{},
		{"u1": "👍"},
		{"u1": "🔥"},
		{"u2": "❤️"},
		{"u1": "👍", "u2": "👍", "u3": "👀"},
	}
}

func TestToggle_TwiceRestoresOriginal(t *testing.T) {
	for i, r := range fixtures() {
		for _, user := range []domain.UserID{"u1", "u2", "u9"} {
			for _, sym := range DefaultPalette {
				t.Run(fmt.Sprintf("%d/%s/%s", i, user, sym), func(t *testing.T) {
					got := Toggle(Toggle(r, user, sym), user, sym)
					assert.True(t, r.Equal(got), "want %v, got %v", r, got)
				})
			}
		}
	}
}

func TestToggle_DistinctUsersCommute(t *testing.T) {
	for i, r := range fixtures() {
		for _, s1 := range DefaultPalette {
			for _, s2 := range DefaultPalette {
				ab := Toggle(Toggle(r, "u1", s1), "u2", s2)
				ba := Toggle(Toggle(r, "u2", s2), "u1", s1)
				assert.True(t, ab.Equal(ba), "fixture %d: %s/%s: %v != %v", i, s1, s2, ab, ba)
			}
		}
	}
}

func TestInPalette(t *testing.T) {
	assert.True(t, InPalette(DefaultPalette, "👍"))
	assert.False(t, InPalette(DefaultPalette, "🦄"))
	assert.True(t, InPalette(nil, "🦄"))
}

func TestGroupBy(t *testing.T) {
	r := domain.Reactions{
		"carol": "🔥",
		"alice": "👍",
		"bob":   "👍",
		"dave":  "🦄",
	}

	groups := GroupBy(r, DefaultPalette)

	assert.Equal(t, []Group{
		{Symbol: "👍", Count: 2, Users: []domain.UserID{"alice", "bob"}},
		{Symbol: "🔥", Count: 1, Users: []domain.UserID{"carol"}},
		{Symbol: "🦄", Count: 1, Users: []domain.UserID{"dave"}},
	}, groups)

	assert.Empty(t, GroupBy(nil, DefaultPalette))
}
