// Package deck stores deck definitions and keeps the deck, deck_summary
// and deck_detail tables consistent while decks are created, edited,
// renamed and deleted.
package deck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/conorfennell/decklog/internal/diag"
	"github.com/conorfennell/decklog/internal/domain"
	"github.com/conorfennell/decklog/internal/parser"
	"github.com/conorfennell/decklog/internal/storage"
)

var (
	ErrDeckNotFound     = errors.New("deck not found")
	ErrDeckExists       = errors.New("deck already exists")
	ErrItemNotFound     = errors.New("item not found")
	ErrItemExists       = errors.New("item already exists")
	ErrItemShape        = errors.New("item does not match the deck categories")
	ErrLastItem         = errors.New("a deck must keep at least one item")
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryExists   = errors.New("category already exists")
)

// ValidationError is a user facing rejection of a deck definition. Its
// message is meant to be displayed as is.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(msg string) *ValidationError { return &ValidationError{Msg: msg} }

// Call site ids recorded in the diagnostic log.
const (
	errIDInit           = 32
	errIDExists         = 33
	errIDDefaults       = 34
	errIDGetDeck        = 36
	errIDSummary        = 38
	errIDNewDeck        = 39
	errIDAddItem        = 44
	errIDDeleteItem     = 45
	errIDUpdateItem     = 46
	errIDDeleteDeck     = 42
	errIDReset          = 43
	errIDRenameDeck     = 47
	errIDRenameCategory = 48
	errIDEmptyName      = 49
	errIDIncomplete     = 50
	errIDFirstColumn    = 51
	errIDMismatch       = 52
	errIDNoItems        = 53
	errIDCreate         = 54
)

var csvErrIDs = map[error]int{
	parser.ErrIncomplete:     errIDIncomplete,
	parser.ErrFirstColumn:    errIDFirstColumn,
	parser.ErrColumnMismatch: errIDMismatch,
	parser.ErrNoItems:        errIDNoItems,
}

// Store is the deck store.
type Store struct {
	db     *storage.DB
	diag   diag.Reporter
	logger *slog.Logger
}

// NewStore creates a deck store.
func NewStore(db *storage.DB, reporter diag.Reporter, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, diag: reporter, logger: logger}
}

// fail records err in the diagnostic log and returns it to the caller.
func (s *Store) fail(ctx context.Context, errorID int, message string, err error) error {
	s.diag.LogError(ctx, domain.ActionConsole, errorID, message, err)
	return err
}

// GetDeck returns the named deck, or nil when it does not exist.
func (s *Store) GetDeck(ctx context.Context, name string) (*domain.Deck, error) {
	d, err := getDeck(ctx, s.db, name)
	if err != nil {
		return nil, s.fail(ctx, errIDGetDeck, fmt.Sprintf("Error getting deck: %s.", name), err)
	}
	return d, nil
}

func getDeck(ctx context.Context, q storage.Querier, name string) (*domain.Deck, error) {
	var categories, items string
	err := q.QueryRow(ctx, `
		SELECT categories, items FROM deck WHERE deckName = ?
	`, name).Scan(&categories, &items)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deck %s: %w", name, err)
	}

	decoded, err := decodeItems(items)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck %s: %w", name, err)
	}
	return &domain.Deck{
		Name:       name,
		Categories: splitCategories(categories),
		Items:      decoded,
	}, nil
}

// mustGetDeck is getDeck with ErrDeckNotFound instead of a nil deck.
func mustGetDeck(ctx context.Context, q storage.Querier, name string) (*domain.Deck, error) {
	d, err := getDeck(ctx, q, name)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeckNotFound, name)
	}
	return d, nil
}

// DeckExists reports whether a deck with this name is stored.
func (s *Store) DeckExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRow(ctx, "SELECT count(*) FROM deck WHERE deckName = ?", name).Scan(&n); err != nil {
		return false, s.fail(ctx, errIDExists, fmt.Sprintf("Error getting deck %s count.", name), err)
	}
	return n > 0, nil
}

// DecksSummary lists every deck with its categories and item count,
// ordered by name ignoring case.
func (s *Store) DecksSummary(ctx context.Context) ([]domain.DeckListing, error) {
	listings, err := s.listDecks(ctx)
	if err != nil {
		return nil, s.fail(ctx, errIDSummary, "Error getting deck summaries.", err)
	}
	sortListings(listings)
	return listings, nil
}

func (s *Store) listDecks(ctx context.Context) ([]domain.DeckListing, error) {
	rows, err := s.db.Query(ctx, "SELECT deckName, categories, items FROM deck ORDER BY deckName")
	if err != nil {
		return nil, fmt.Errorf("failed to get decks: %w", err)
	}
	defer rows.Close()

	listings := []domain.DeckListing{}
	for rows.Next() {
		var name, categories, items string
		if err := rows.Scan(&name, &categories, &items); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decoded, err := decodeItems(items)
		if err != nil {
			return nil, fmt.Errorf("failed to read deck %s: %w", name, err)
		}
		listings = append(listings, domain.DeckListing{
			DeckName:   name,
			Categories: splitCategories(categories),
			ItemCount:  len(decoded),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deck rows: %w", err)
	}
	return listings, nil
}

// CreateDeckFromCSV parses csv and creates the deck. Invalid input returns a
// *ValidationError and writes nothing.
func (s *Store) CreateDeckFromCSV(ctx context.Context, name, csv string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		msg := "Deck name cannot be empty."
		s.diag.LogError(ctx, domain.ActionConsole, errIDEmptyName, msg, nil)
		return invalid(msg)
	}

	sheet, err := parser.ParseString(csv)
	if err != nil {
		id, ok := errorID(err)
		if !ok {
			id = errIDCreate
		}
		s.diag.LogError(ctx, domain.ActionConsole, id, err.Error(), nil)
		return &ValidationError{Msg: err.Error(), Err: err}
	}

	return s.NewDeck(ctx, name, sheet.Categories, sheet.Items)
}

func errorID(err error) (int, bool) {
	for target, id := range csvErrIDs {
		if errors.Is(err, target) {
			return id, true
		}
	}
	return 0, false
}

// NewDeck validates and stores a deck with a zeroed summary row and one
// zeroed detail row per item.
func (s *Store) NewDeck(ctx context.Context, name string, categories []string, items [][]string) error {
	name = strings.TrimSpace(name)
	if verr := validateDeck(name, categories, items); verr != nil {
		s.diag.LogError(ctx, domain.ActionConsole, errIDNewDeck, verr.Msg, nil)
		return verr
	}

	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		existing, err := getDeck(ctx, tx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ValidationError{Msg: fmt.Sprintf("Deck %s already exists.", name), Err: ErrDeckExists}
		}
		return insertDeck(ctx, tx, name, categories, items)
	})
	if err != nil {
		return s.fail(ctx, errIDNewDeck, fmt.Sprintf("Failed to add deck %s.", name), err)
	}
	return nil
}

func validateDeck(name string, categories []string, items [][]string) *ValidationError {
	if name == "" {
		return invalid("Deck name cannot be empty.")
	}
	if len(categories) == 0 {
		return invalid("Deck must have at least one category.")
	}
	for _, c := range categories {
		if msg := validateCategory(c); msg != "" {
			return invalid(msg)
		}
	}
	if len(items) == 0 {
		return &ValidationError{Msg: parser.ErrNoItems.Error(), Err: parser.ErrNoItems}
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if len(item) != len(categories)+1 {
			return &ValidationError{Msg: parser.ErrColumnMismatch.Error(), Err: parser.ErrColumnMismatch}
		}
		if item[0] == "" {
			return &ValidationError{Msg: parser.ErrEmptyText.Error(), Err: parser.ErrEmptyText}
		}
		if seen[item[0]] {
			return &ValidationError{
				Msg: fmt.Sprintf("%s: %s", parser.ErrDuplicateText.Error(), item[0]),
				Err: parser.ErrDuplicateText,
			}
		}
		seen[item[0]] = true
	}
	return nil
}

func validateCategory(c string) string {
	if strings.TrimSpace(c) == "" {
		return "Category names cannot be empty."
	}
	if strings.Contains(c, categorySeparator) {
		return "Category names cannot contain " + categorySeparator + "."
	}
	return ""
}

func insertDeck(ctx context.Context, tx *storage.Tx, name string, categories []string, items [][]string) error {
	encoded, err := encodeItems(items)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO deck (deckName, categories, items) VALUES (?, ?, ?)
	`, name, joinCategories(categories), encoded); err != nil {
		return fmt.Errorf("failed to insert deck %s: %w", name, err)
	}
	if err := seedSummary(ctx, tx, name); err != nil {
		return err
	}
	for _, item := range items {
		if err := resetDetail(ctx, tx, name, item[0]); err != nil {
			return err
		}
	}
	return nil
}

// seedSummary writes a zeroed summary row for the deck.
func seedSummary(ctx context.Context, q storage.Querier, name string) error {
	if _, err := q.Exec(ctx, `
		INSERT OR REPLACE INTO deck_summary (
			deckName, timesPlayed, minCorrect, maxCorrect, minCorrectPerAttempt,
			maxCorrectPerAttempt, minCorrectPerMinute, maxCorrectPerMinute)
		VALUES (?, 0, 0, 0, 0, 0, 0, 0)
	`, name); err != nil {
		return fmt.Errorf("failed to insert summary for deck %s: %w", name, err)
	}
	return nil
}

// resetDetail makes sure a zeroed detail row exists for text.
func resetDetail(ctx context.Context, q storage.Querier, deckName, text string) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO deck_detail (deckName, text, numberAttempts, numberCorrect)
		VALUES (?, ?, 0, 0)
		ON CONFLICT (deckName, text) DO UPDATE SET numberAttempts = 0, numberCorrect = 0
	`, deckName, text); err != nil {
		return fmt.Errorf("failed to insert detail %s for deck %s: %w", text, deckName, err)
	}
	return nil
}

func writeItems(ctx context.Context, tx *storage.Tx, name string, items [][]string) error {
	encoded, err := encodeItems(items)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE deck SET items = ? WHERE deckName = ?", encoded, name); err != nil {
		return fmt.Errorf("failed to update items for deck %s: %w", name, err)
	}
	return nil
}

func indexOfText(items [][]string, text string) int {
	return slices.IndexFunc(items, func(item []string) bool { return item[0] == text })
}

func checkItem(d *domain.Deck, item []string) error {
	if len(item) != len(d.Categories)+1 {
		return fmt.Errorf("%w: expected %d values, got %d", ErrItemShape, len(d.Categories)+1, len(item))
	}
	if strings.TrimSpace(item[0]) == "" {
		return &ValidationError{Msg: parser.ErrEmptyText.Error(), Err: parser.ErrEmptyText}
	}
	return nil
}

// AddDeckItem adds item to the deck and starts a fresh counter for it.
func (s *Store) AddDeckItem(ctx context.Context, deckName string, item []string) error {
	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		d, err := mustGetDeck(ctx, tx, deckName)
		if err != nil {
			return err
		}
		if err := checkItem(d, item); err != nil {
			return err
		}
		if indexOfText(d.Items, item[0]) >= 0 {
			return fmt.Errorf("%w: %s", ErrItemExists, item[0])
		}

		items := append(d.Items, slices.Clone(item))
		sortItems(items)
		if err := writeItems(ctx, tx, deckName, items); err != nil {
			return err
		}
		return resetDetail(ctx, tx, deckName, item[0])
	})
	if err != nil {
		return s.fail(ctx, errIDAddItem, "Error adding deck item.", err)
	}
	return nil
}

// UpdateDeckItem replaces the item identified by oldText. When the text
// changes the item's counters move with it.
func (s *Store) UpdateDeckItem(ctx context.Context, deckName, oldText string, item []string) error {
	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		d, err := mustGetDeck(ctx, tx, deckName)
		if err != nil {
			return err
		}
		idx := indexOfText(d.Items, oldText)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrItemNotFound, oldText)
		}
		if err := checkItem(d, item); err != nil {
			return err
		}
		newText := item[0]
		if newText != oldText && indexOfText(d.Items, newText) >= 0 {
			return fmt.Errorf("%w: %s", ErrItemExists, newText)
		}

		items := d.Items
		items[idx] = slices.Clone(item)
		sortItems(items)
		if err := writeItems(ctx, tx, deckName, items); err != nil {
			return err
		}
		if newText == oldText {
			return nil
		}

		// A retained history row for the new text would collide with the rename.
		if _, err := tx.Exec(ctx, `
			DELETE FROM deck_detail WHERE deckName = ? AND text = ?
		`, deckName, newText); err != nil {
			return fmt.Errorf("failed to clear detail %s: %w", newText, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE deck_detail SET text = ? WHERE deckName = ? AND text = ?
		`, newText, deckName, oldText); err != nil {
			return fmt.Errorf("failed to rename detail %s: %w", oldText, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT OR IGNORE INTO deck_detail (deckName, text, numberAttempts, numberCorrect)
			VALUES (?, ?, 0, 0)
		`, deckName, newText)
		return err
	})
	if err != nil {
		return s.fail(ctx, errIDUpdateItem, "Error updating deck item.", err)
	}
	return nil
}

// DeleteDeckItem removes the item with this text and its counters. The last
// item of a deck cannot be deleted.
func (s *Store) DeleteDeckItem(ctx context.Context, deckName, text string) error {
	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		d, err := mustGetDeck(ctx, tx, deckName)
		if err != nil {
			return err
		}
		idx := indexOfText(d.Items, text)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrItemNotFound, text)
		}
		if len(d.Items) == 1 {
			return ErrLastItem
		}

		items := slices.Delete(d.Items, idx, idx+1)
		if err := writeItems(ctx, tx, deckName, items); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM deck_detail WHERE deckName = ? AND text = ?
		`, deckName, text); err != nil {
			return fmt.Errorf("failed to delete detail %s: %w", text, err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, errIDDeleteItem, "Error deleting deck item.", err)
	}
	return nil
}

// DeleteDeck removes the deck together with its games and statistics.
func (s *Store) DeleteDeck(ctx context.Context, name string) error {
	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := mustGetDeck(ctx, tx, name); err != nil {
			return err
		}
		statements := []string{
			"DELETE FROM deck WHERE deckName = ?",
			"DELETE FROM game_detail WHERE gameId IN (SELECT id FROM game_summary WHERE deckName = ?)",
			"DELETE FROM game_summary WHERE deckName = ?",
			"DELETE FROM deck_summary WHERE deckName = ?",
			"DELETE FROM deck_detail WHERE deckName = ?",
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt, name); err != nil {
				return fmt.Errorf("failed to delete deck %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, errIDDeleteDeck, fmt.Sprintf("Failed to delete deck %s.", name), err)
	}
	s.logger.Info("Deck deleted", "deck", name)
	return nil
}

// ChangeDeckName renames a deck everywhere it is referenced.
func (s *Store) ChangeDeckName(ctx context.Context, oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return invalid("Deck name cannot be empty.")
	}
	if newName == oldName {
		return nil
	}

	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := mustGetDeck(ctx, tx, oldName); err != nil {
			return err
		}
		existing, err := getDeck(ctx, tx, newName)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ValidationError{Msg: fmt.Sprintf("Deck %s already exists.", newName), Err: ErrDeckExists}
		}
		for _, table := range []string{"deck", "game_summary", "deck_summary", "deck_detail"} {
			if _, err := tx.Exec(ctx, "UPDATE "+table+" SET deckName = ? WHERE deckName = ?", newName, oldName); err != nil {
				return fmt.Errorf("failed to rename deck in %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, errIDRenameDeck, "Error changing deck name.", err)
	}
	return nil
}

// ChangeCategoryName renames one category of a deck, including the games
// and turns that recorded it.
func (s *Store) ChangeCategoryName(ctx context.Context, deckName, oldCategory, newCategory string) error {
	newCategory = strings.TrimSpace(newCategory)
	if msg := validateCategory(newCategory); msg != "" {
		return invalid(msg)
	}
	if newCategory == oldCategory {
		return nil
	}

	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		d, err := mustGetDeck(ctx, tx, deckName)
		if err != nil {
			return err
		}
		idx := slices.Index(d.Categories, oldCategory)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrCategoryNotFound, oldCategory)
		}
		if slices.Contains(d.Categories, newCategory) {
			return fmt.Errorf("%w: %s", ErrCategoryExists, newCategory)
		}
		d.Categories[idx] = newCategory

		if _, err := tx.Exec(ctx, `
			UPDATE deck SET categories = ? WHERE deckName = ?
		`, joinCategories(d.Categories), deckName); err != nil {
			return fmt.Errorf("failed to update categories: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE game_summary SET category = ? WHERE deckName = ? AND category = ?
		`, newCategory, deckName, oldCategory); err != nil {
			return fmt.Errorf("failed to rename category in games: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE game_detail SET category = ?
			WHERE category = ? AND gameId IN (SELECT id FROM game_summary WHERE deckName = ?)
		`, newCategory, oldCategory, deckName); err != nil {
			return fmt.Errorf("failed to rename category in turns: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, errIDRenameCategory, "Error changing category name.", err)
	}
	return nil
}

// ResetDecks drops every table, recreates the schema and reloads the
// bundled decks.
func (s *Store) ResetDecks(ctx context.Context) error {
	if err := s.db.Reset(ctx); err != nil {
		return s.fail(ctx, errIDReset, "Failed to reset decks.", err)
	}
	return s.InitDecks(ctx)
}

// SeedStats writes a zeroed summary row and one zeroed detail row per item
// for a stored deck. It runs inside the caller's transaction; a missing
// deck is ignored.
func (s *Store) SeedStats(ctx context.Context, tx *storage.Tx, deckName string) error {
	d, err := getDeck(ctx, tx, deckName)
	if err != nil || d == nil {
		return err
	}
	if err := seedSummary(ctx, tx, deckName); err != nil {
		return err
	}
	for _, text := range d.Texts() {
		if err := resetDetail(ctx, tx, deckName, text); err != nil {
			return err
		}
	}
	return nil
}

// SeedAllStats runs SeedStats for every stored deck.
func (s *Store) SeedAllStats(ctx context.Context, tx *storage.Tx) error {
	rows, err := tx.Query(ctx, "SELECT deckName FROM deck")
	if err != nil {
		return fmt.Errorf("failed to list decks: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan deck name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read deck names: %w", err)
	}

	for _, name := range names {
		if err := s.SeedStats(ctx, tx, name); err != nil {
			return err
		}
	}
	return nil
}
