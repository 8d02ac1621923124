package domain

// Deck is a named set of categories and items. Every item is a row aligned
// with [text, categories...], so len(item) == 1+len(Categories).
type Deck struct {
	Name       string     `json:"name"`
	Categories []string   `json:"categories"`
	Items      [][]string `json:"items"`
}

// Texts returns the first column of every item.
func (d *Deck) Texts() []string {
	texts := make([]string, 0, len(d.Items))
	for _, item := range d.Items {
		if len(item) > 0 {
			texts = append(texts, item[0])
		}
	}
	return texts
}

// DeckListing is the short form of a deck used for listings.
type DeckListing struct {
	DeckName   string   `json:"deckName"`
	Categories []string `json:"categories"`
	ItemCount  int      `json:"itemCount"`
}
