package deck

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/conorfennell/decklog/internal/domain"
)

// newCollator compares strings ignoring case and accents. Collators are not
// safe for concurrent use, so every sort gets its own.
func newCollator() *collate.Collator {
	return collate.New(language.Und, collate.Loose)
}

// sortItems orders items by their text column.
func sortItems(items [][]string) {
	c := newCollator()
	slices.SortStableFunc(items, func(a, b []string) int {
		return c.CompareString(a[0], b[0])
	})
}

func sortListings(listings []domain.DeckListing) {
	c := newCollator()
	slices.SortStableFunc(listings, func(a, b domain.DeckListing) int {
		return c.CompareString(a.DeckName, b.DeckName)
	})
}
