package deck

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/goccy/go-json"

	"github.com/conorfennell/decklog/internal/domain"
)

//go:embed defaults/*.json
var defaultDeckFiles embed.FS

// DefaultDecks returns the decks bundled with the binary, in file order.
func DefaultDecks() ([]domain.Deck, error) {
	entries, err := fs.ReadDir(defaultDeckFiles, "defaults")
	if err != nil {
		return nil, fmt.Errorf("failed to list default decks: %w", err)
	}

	decks := make([]domain.Deck, 0, len(entries))
	for _, entry := range entries {
		b, err := defaultDeckFiles.ReadFile(path.Join("defaults", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read default deck %s: %w", entry.Name(), err)
		}
		var d domain.Deck
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("failed to parse default deck %s: %w", entry.Name(), err)
		}
		decks = append(decks, d)
	}
	return decks, nil
}

// InitDecks loads the bundled decks when no deck is stored yet.
func (s *Store) InitDecks(ctx context.Context) error {
	var count int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM deck").Scan(&count); err != nil {
		return s.fail(ctx, errIDInit, "Error getting decks count.", err)
	}
	if count > 0 {
		return nil
	}

	decks, err := DefaultDecks()
	if err != nil {
		return s.fail(ctx, errIDDefaults, "Error initializing default decks", err)
	}
	for _, d := range decks {
		if err := s.NewDeck(ctx, d.Name, d.Categories, d.Items); err != nil {
			return err
		}
		s.logger.Info("Default deck loaded", "deck", d.Name, "items", len(d.Items))
	}
	return nil
}
