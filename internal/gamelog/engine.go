// Package gamelog records finished games and folds them into the deck
// level and item level rollups.
package gamelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/decklog/internal/deck"
	"github.com/conorfennell/decklog/internal/diag"
	"github.com/conorfennell/decklog/internal/domain"
	"github.com/conorfennell/decklog/internal/storage"
)

// DefaultMaxGames is how many games keep their summary and turns.
const DefaultMaxGames = 200

// Call site ids recorded in the diagnostic log.
const (
	errIDReset     = 15
	errIDClearAll  = 16
	errIDClearDeck = 17
	errIDGameLog   = 18
	errIDGamesLog  = 19
	errIDDeckStats = 20
	errIDLogGame   = 21
)

// Seeder recreates zeroed rollup rows for stored decks. The deck store
// implements it.
type Seeder interface {
	SeedStats(ctx context.Context, tx *storage.Tx, deckName string) error
	SeedAllStats(ctx context.Context, tx *storage.Tx) error
}

// SelectionClearer forgets the last deck, category and duration picked.
type SelectionClearer interface {
	ClearSelection() error
}

// Engine is the game log and rollup engine.
type Engine struct {
	db        *storage.DB
	diag      diag.Reporter
	seeder    Seeder
	selection SelectionClearer
	logger    *slog.Logger
	validate  *validator.Validate
	maxGames  int
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxGames sets how many recent games are retained.
func WithMaxGames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxGames = n
		}
	}
}

// WithSeeder lets ClearDeck and ClearAll restore zeroed rollup rows.
func WithSeeder(s Seeder) Option {
	return func(e *Engine) { e.seeder = s }
}

// WithSelection sets the preferences cleared by ClearAll.
func WithSelection(s SelectionClearer) Option {
	return func(e *Engine) { e.selection = s }
}

// WithLogger sets the process logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine on top of db.
func New(db *storage.DB, reporter diag.Reporter, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		diag:     reporter,
		logger:   slog.Default(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		maxGames: DefaultMaxGames,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) fail(ctx context.Context, errorID int, message string, err error) error {
	e.diag.LogError(ctx, domain.ActionConsole, errorID, message, err)
	return err
}

// Metrics are the per game values folded into the deck summary.
type Metrics struct {
	Attempted         int
	Correct           int
	CorrectPerAttempt float64
	CorrectPerMinute  float64
}

// ComputeMetrics derives the game metrics. Rates are rounded to two decimals.
func ComputeMetrics(rec domain.GameRecord) Metrics {
	m := Metrics{Attempted: len(rec.Turns)}
	for _, turn := range rec.Turns {
		if turn.IsCorrect {
			m.Correct++
		}
	}
	if m.Attempted > 0 {
		m.CorrectPerAttempt = round2(100 * float64(m.Correct) / float64(m.Attempted))
	}
	if rec.Duration > 0 {
		m.CorrectPerMinute = round2(float64(m.Correct) / (float64(rec.Duration) / 60))
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// LogGame stores a finished game and updates the deck rollups. The deck must
// exist. Every step
// runs in one transaction, so a failure leaves no partial game behind.
// The failure is also written to the diagnostic log.
func (e *Engine) LogGame(ctx context.Context, rec domain.GameRecord) (int64, error) {
	if err := e.validate.Struct(rec); err != nil {
		return 0, e.fail(ctx, errIDLogGame, "Failed to log game.", fmt.Errorf("invalid game record: %w", err))
	}

	m := ComputeMetrics(rec)
	var gameID int64
	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		if err := requireDeck(ctx, tx, rec.DeckName); err != nil {
			return err
		}
		var err error
		gameID, err = insertGame(ctx, tx, rec, m)
		if err != nil {
			return err
		}
		if err := foldSummary(ctx, tx, rec.DeckName, m); err != nil {
			return err
		}
		if err := foldDetails(ctx, tx, rec); err != nil {
			return err
		}
		return prune(ctx, tx, e.maxGames)
	})
	if err != nil {
		return 0, e.fail(ctx, errIDLogGame, "Failed to log game.", err)
	}

	e.logger.Debug("Game logged", "game_id", gameID, "deck", rec.DeckName,
		"attempted", m.Attempted, "correct", m.Correct)
	return gameID, nil
}

// requireDeck fails with deck.ErrDeckNotFound unless the deck is stored, so
// rollup rows are never created for a deck that does not exist.
func requireDeck(ctx context.Context, tx *storage.Tx, deckName string) error {
	var n int
	if err := tx.QueryRow(ctx, "SELECT count(*) FROM deck WHERE deckName = ?", deckName).Scan(&n); err != nil {
		return fmt.Errorf("failed to check deck %s: %w", deckName, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", deck.ErrDeckNotFound, deckName)
	}
	return nil
}

func insertGame(ctx context.Context, tx *storage.Tx, rec domain.GameRecord, m Metrics) (int64, error) {
	res, err := tx.Exec(ctx, `
		INSERT INTO game_summary (deckName, category, duration, attempted, correct)
		VALUES (?, ?, ?, ?, ?)
	`, rec.DeckName, rec.Category, rec.Duration, m.Attempted, m.Correct)
	if err != nil {
		return 0, fmt.Errorf("failed to insert game summary: %w", err)
	}
	gameID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get game id: %w", err)
	}

	for _, turn := range rec.Turns {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game_detail (gameId, text, type, category, response, isCorrect)
			VALUES (?, ?, ?, ?, ?, ?)
		`, gameID, turn.Text, turn.Type, turn.Category, turn.Response, boolInt(turn.IsCorrect)); err != nil {
			return 0, fmt.Errorf("failed to insert game detail: %w", err)
		}
	}
	return gameID, nil
}

// foldSummary applies the running min/max fold. A summary that has never
// been played takes this game's values as both bounds.
func foldSummary(ctx context.Context, tx *storage.Tx, deckName string, m Metrics) error {
	if _, err := tx.Exec(ctx, `
		INSERT OR IGNORE INTO deck_summary (
			deckName, timesPlayed, minCorrect, maxCorrect, minCorrectPerAttempt,
			maxCorrectPerAttempt, minCorrectPerMinute, maxCorrectPerMinute)
		VALUES (?, 0, ?, ?, ?, ?, ?, ?)
	`, deckName, m.Correct, m.Correct, m.CorrectPerAttempt, m.CorrectPerAttempt,
		m.CorrectPerMinute, m.CorrectPerMinute); err != nil {
		return fmt.Errorf("failed to insert deck summary: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deck_summary SET
			minCorrect = CASE WHEN timesPlayed = 0 OR minCorrect > ? THEN ? ELSE minCorrect END,
			maxCorrect = CASE WHEN timesPlayed = 0 OR maxCorrect < ? THEN ? ELSE maxCorrect END,
			minCorrectPerAttempt = CASE WHEN timesPlayed = 0 OR minCorrectPerAttempt > ? THEN ? ELSE minCorrectPerAttempt END,
			maxCorrectPerAttempt = CASE WHEN timesPlayed = 0 OR maxCorrectPerAttempt < ? THEN ? ELSE maxCorrectPerAttempt END,
			minCorrectPerMinute = CASE WHEN timesPlayed = 0 OR minCorrectPerMinute > ? THEN ? ELSE minCorrectPerMinute END,
			maxCorrectPerMinute = CASE WHEN timesPlayed = 0 OR maxCorrectPerMinute < ? THEN ? ELSE maxCorrectPerMinute END,
			timesPlayed = timesPlayed + 1
		WHERE deckName = ?
	`,
		m.Correct, m.Correct,
		m.Correct, m.Correct,
		m.CorrectPerAttempt, m.CorrectPerAttempt,
		m.CorrectPerAttempt, m.CorrectPerAttempt,
		m.CorrectPerMinute, m.CorrectPerMinute,
		m.CorrectPerMinute, m.CorrectPerMinute,
		deckName,
	); err != nil {
		return fmt.Errorf("failed to update deck summary: %w", err)
	}
	return nil
}

// foldDetails backfills a counter for every text seen in this deck's games
// and counts every answered turn.
func foldDetails(ctx context.Context, tx *storage.Tx, rec domain.GameRecord) error {
	if _, err := tx.Exec(ctx, `
		INSERT OR IGNORE INTO deck_detail (deckName, text, numberAttempts, numberCorrect)
		SELECT ?, text, 0, 0 FROM game_detail
		WHERE gameId IN (SELECT id FROM game_summary WHERE deckName = ?)
		GROUP BY text
	`, rec.DeckName, rec.DeckName); err != nil {
		return fmt.Errorf("failed to backfill deck detail: %w", err)
	}

	for _, turn := range rec.Turns {
		if turn.Type == domain.TurnSkip {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE deck_detail SET
				numberAttempts = numberAttempts + 1,
				numberCorrect = numberCorrect + ?
			WHERE deckName = ? AND text = ?
		`, boolInt(turn.IsCorrect), rec.DeckName, turn.Text); err != nil {
			return fmt.Errorf("failed to update deck detail %s: %w", turn.Text, err)
		}
	}
	return nil
}

// prune keeps the most recent games across all decks and drops turns whose
// game is gone.
func prune(ctx context.Context, tx *storage.Tx, maxGames int) error {
	if _, err := tx.Exec(ctx, `
		DELETE FROM game_summary
		WHERE id NOT IN (SELECT id FROM game_summary ORDER BY id DESC LIMIT ?)
	`, maxGames); err != nil {
		return fmt.Errorf("failed to prune game summaries: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM game_detail WHERE gameId NOT IN (SELECT id FROM game_summary)
	`); err != nil {
		return fmt.Errorf("failed to prune game details: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DeckStats returns the rollups and recent games of a deck, or nil when the
// deck has no summary.
func (e *Engine) DeckStats(ctx context.Context, deckName string) (*domain.DeckStats, error) {
	// The pool holds a single connection, so the reads run one after another.
	summary, err := e.getSummary(ctx, deckName)
	if err != nil {
		return nil, e.failStats(ctx, deckName, err)
	}
	if summary == nil {
		return nil, nil
	}
	games, err := e.listGames(ctx, "WHERE deckName = ?", deckName)
	if err != nil {
		return nil, e.failStats(ctx, deckName, err)
	}
	details, err := e.listDetails(ctx, deckName)
	if err != nil {
		return nil, e.failStats(ctx, deckName, err)
	}
	return &domain.DeckStats{Summary: *summary, Games: games, Details: details}, nil
}

func (e *Engine) failStats(ctx context.Context, deckName string, err error) error {
	return e.fail(ctx, errIDDeckStats, fmt.Sprintf("Failed to retrieve deck summary for %s.", deckName), err)
}

func (e *Engine) getSummary(ctx context.Context, deckName string) (*domain.DeckSummary, error) {
	var s domain.DeckSummary
	err := e.db.QueryRow(ctx, `
		SELECT deckName, timesPlayed, minCorrect, maxCorrect, minCorrectPerAttempt,
			maxCorrectPerAttempt, minCorrectPerMinute, maxCorrectPerMinute
		FROM deck_summary WHERE deckName = ?
	`, deckName).Scan(
		&s.DeckName,
		&s.TimesPlayed,
		&s.MinCorrect,
		&s.MaxCorrect,
		&s.MinCorrectPerAttempt,
		&s.MaxCorrectPerAttempt,
		&s.MinCorrectPerMinute,
		&s.MaxCorrectPerMinute,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get deck summary %s: %w", deckName, err)
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (e *Engine) scanGame(row rowScanner) (domain.GameSummary, error) {
	var g domain.GameSummary
	err := row.Scan(&g.ID, &g.DatetimeEnded, &g.DeckName, &g.Category, &g.Duration, &g.Attempted, &g.Correct)
	if err != nil {
		return g, err
	}
	ended := time.Unix(g.DatetimeEnded, 0)
	g.Datetime = storage.DateString(g.DatetimeEnded)
	g.Ago = humanize.RelTime(ended, e.now(), "ago", "from now")
	return g, nil
}

const gameColumns = "id, datetimeEnded, deckName, category, duration, attempted, correct"

// listGames returns the most recent games matching where, newest first.
func (e *Engine) listGames(ctx context.Context, where string, args ...any) ([]domain.GameSummary, error) {
	query := "SELECT " + gameColumns + " FROM game_summary " + where + " ORDER BY id DESC LIMIT ?"
	rows, err := e.db.Query(ctx, query, append(args, e.maxGames)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get games: %w", err)
	}
	defer rows.Close()

	games := []domain.GameSummary{}
	for rows.Next() {
		g, err := e.scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game row: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read game rows: %w", err)
	}
	return games, nil
}

func (e *Engine) listDetails(ctx context.Context, deckName string) ([]domain.DeckDetail, error) {
	rows, err := e.db.Query(ctx, `
		SELECT deckName, text, numberAttempts, numberCorrect
		FROM deck_detail WHERE deckName = ?
		ORDER BY numberAttempts DESC, numberCorrect DESC
	`, deckName)
	if err != nil {
		return nil, fmt.Errorf("failed to get deck details %s: %w", deckName, err)
	}
	defer rows.Close()

	details := []domain.DeckDetail{}
	for rows.Next() {
		var d domain.DeckDetail
		if err := rows.Scan(&d.DeckName, &d.Text, &d.NumberAttempts, &d.NumberCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan deck detail row: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deck detail rows: %w", err)
	}
	return details, nil
}

// GamesLog returns the most recent games of every deck, newest first.
func (e *Engine) GamesLog(ctx context.Context) ([]domain.GameSummary, error) {
	games, err := e.listGames(ctx, "")
	if err != nil {
		return nil, e.fail(ctx, errIDGamesLog, "Failed to retrieve game logs.", err)
	}
	return games, nil
}

// GameLog returns one game with its turns, or nil when it is not retained.
func (e *Engine) GameLog(ctx context.Context, gameID int64) (*domain.GameLog, error) {
	log, err := e.gameLog(ctx, gameID)
	if err != nil {
		return nil, e.fail(ctx, errIDGameLog, fmt.Sprintf("Failed to retrieve gameLog for gameId %d.", gameID), err)
	}
	return log, nil
}

func (e *Engine) gameLog(ctx context.Context, gameID int64) (*domain.GameLog, error) {
	summary, err := e.scanGame(e.db.QueryRow(ctx,
		"SELECT "+gameColumns+" FROM game_summary WHERE id = ?", gameID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get game %d: %w", gameID, err)
	}

	rows, err := e.db.Query(ctx, `
		SELECT id, gameId, type, text, category, response, isCorrect
		FROM game_detail WHERE gameId = ? ORDER BY id
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get turns for game %d: %w", gameID, err)
	}
	defer rows.Close()

	details := []domain.GameDetail{}
	for rows.Next() {
		var d domain.GameDetail
		if err := rows.Scan(&d.ID, &d.GameID, &d.Type, &d.Text, &d.Category, &d.Response, &d.IsCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turn rows: %w", err)
	}
	return &domain.GameLog{Summary: summary, Details: details}, nil
}

// ClearDeck drops the games and statistics of one deck. The deck itself
// stays and its counters start again from zero.
func (e *Engine) ClearDeck(ctx context.Context, deckName string) error {
	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		statements := []string{
			"DELETE FROM game_detail WHERE gameId IN (SELECT id FROM game_summary WHERE deckName = ?)",
			"DELETE FROM game_summary WHERE deckName = ?",
			"DELETE FROM deck_summary WHERE deckName = ?",
			"DELETE FROM deck_detail WHERE deckName = ?",
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt, deckName); err != nil {
				return fmt.Errorf("failed to clear deck %s: %w", deckName, err)
			}
		}
		if e.seeder != nil {
			return e.seeder.SeedStats(ctx, tx, deckName)
		}
		return nil
	})
	if err != nil {
		return e.fail(ctx, errIDClearDeck, fmt.Sprintf("Failed to clear logs and deck %s.", deckName), err)
	}
	return nil
}

// ClearAll drops every game and statistic, keeping the decks, and forgets
// the last selection.
func (e *Engine) ClearAll(ctx context.Context) error {
	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		for _, table := range []string{"game_detail", "game_summary", "deck_summary", "deck_detail"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		if e.seeder != nil {
			return e.seeder.SeedAllStats(ctx, tx)
		}
		return nil
	})
	if err == nil && e.selection != nil {
		err = e.selection.ClearSelection()
	}
	if err != nil {
		return e.fail(ctx, errIDClearAll, "Failed to clear all decks and storage.", err)
	}

	e.diag.LogError(ctx, domain.ActionLog, errIDReset, "Decks and storage reset.", nil)
	return nil
}
