// Package reaction computes per-user reaction maps for a message.
//
// The backing log only supports replacing a message's reaction map
// wholesale, so every change is computed here from the latest known map and
// written back in full. Toggles from different users touch different keys
// and always commute; two toggles from the same user racing against a stale
// map resolve as last-write-wins and converge on the next pushed snapshot.
package reaction

import (
	"sort"

	"github.com/nfrund/roomsync/internal/domain"
)

// DefaultPalette is the set of symbols offered by the chat client.
var DefaultPalette = []string{"👍", "❤️", "😆", "🎉", "🔥", "👀"}

// Toggle returns the reaction map after user toggles symbol. Reacting with
// the symbol the user already holds removes it; any other symbol replaces it.
// The input map is never modified.
func Toggle(current domain.Reactions, user domain.UserID, symbol string) domain.Reactions {
	next := current.Clone()
	if held, ok := next[user]; ok && held == symbol {
		delete(next, user)
		return next
	}
	next[user] = symbol
	return next
}

// InPalette reports whether symbol is allowed by palette. An empty palette allows anything.
func InPalette(palette []string, symbol string) bool {
	if len(palette) == 0 {
		return true
	}
	for _, p := range palette {
		if p == symbol {
			return true
		}
	}
	return false
}

// Group is the aggregated view of one symbol on a message.
type Group struct {
	Symbol string          `json:"symbol"`
	Count  int             `json:"count"`
	Users  []domain.UserID `json:"users"`
}

// GroupBy aggregates reactions per symbol. Symbols in palette come first in
// palette order, the rest follow sorted. Users within a group are sorted.
func GroupBy(reactions domain.Reactions, palette []string) []Group {
	bySymbol := make(map[string][]domain.UserID)
	for uid, sym := range reactions {
		bySymbol[sym] = append(bySymbol[sym], uid)
	}

	rank := make(map[string]int, len(palette))
	for i, p := range palette {
		rank[p] = i
	}

	groups := make([]Group, 0, len(bySymbol))
	for sym, users := range bySymbol {
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
		groups = append(groups, Group{Symbol: sym, Count: len(users), Users: users})
	}

	sort.Slice(groups, func(i, j int) bool {
		ri, iok := rank[groups[i].Symbol]
		rj, jok := rank[groups[j].Symbol]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return groups[i].Symbol < groups[j].Symbol
		}
	})
	return groups
}
