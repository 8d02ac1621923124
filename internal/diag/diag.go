// Package diag keeps a bounded log of operational failures in the errors
// table and forwards user facing ones to a Notifier.
package diag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conorfennell/decklog/internal/domain"
	"github.com/conorfennell/decklog/internal/storage"
)

const (
	DefaultMaxEntries   = 200
	DefaultMaxDetailLen = 400
)

// Reporter is what the rest of the core depends on to record failures.
type Reporter interface {
	LogError(ctx context.Context, action domain.Action, errorID int, message string, err error)
}

// Notifier surfaces a message to the user, for example as a toast.
type Notifier interface {
	Notify(level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level, message string)

func (f NotifierFunc) Notify(level, message string) { f(level, message) }

// Log is the diagnostic log backed by the errors table.
type Log struct {
	db           *storage.DB
	notifier     Notifier
	logger       *slog.Logger
	maxEntries   int
	maxDetailLen int
}

var _ Reporter = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

// WithNotifier sets where toast actions go. Without one they are only logged.
func WithNotifier(n Notifier) Option {
	return func(l *Log) { l.notifier = n }
}

// WithLogger sets the slog logger used for console output.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithLimits sets how many entries are retained and how long a stored
// error detail may be. Non-positive values keep the defaults.
func WithLimits(maxEntries, maxDetailLen int) Option {
	return func(l *Log) {
		if maxEntries > 0 {
			l.maxEntries = maxEntries
		}
		if maxDetailLen > 0 {
			l.maxDetailLen = maxDetailLen
		}
	}
}

// New creates a diagnostic log on top of db.
func New(db *storage.DB, opts ...Option) *Log {
	l := &Log{
		db:           db,
		logger:       slog.Default(),
		maxEntries:   DefaultMaxEntries,
		maxDetailLen: DefaultMaxDetailLen,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogError records a failure. errorID identifies the call site. It never
// fails: problems while logging are only written to the process log.
func (l *Log) LogError(ctx context.Context, action domain.Action, errorID int, message string, err error) {
	detail := l.truncate(err)

	if action != domain.ActionToastOnly {
		if insertErr := l.insert(ctx, errorID, message, detail); insertErr != nil {
			l.logger.Error("Failed to log error", "error_id", errorID, "message", message, "error", insertErr)
		}
	}

	switch action {
	case domain.ActionConsole:
		l.console(errorID, message, detail)
	case domain.ActionToast, domain.ActionToastOnly:
		l.notify(message)
	case domain.ActionBoth:
		l.console(errorID, message, detail)
		l.notify(message)
	}
}

func (l *Log) insert(ctx context.Context, errorID int, message, detail string) error {
	return l.db.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO errors (errorId, message, error)
			VALUES (?, ?, ?)
		`, errorID, message, detail); err != nil {
			return fmt.Errorf("failed to insert error %d: %w", errorID, err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM errors
			WHERE id NOT IN (SELECT id FROM errors ORDER BY id DESC LIMIT ?)
		`, l.maxEntries); err != nil {
			return fmt.Errorf("failed to prune error logs: %w", err)
		}
		return nil
	})
}

func (l *Log) console(errorID int, message, detail string) {
	l.logger.Error(message, "error_id", errorID, "error", detail)
}

func (l *Log) notify(message string) {
	if l.notifier == nil {
		l.logger.Warn(message, "notify", "no notifier")
		return
	}
	l.notifier.Notify("warning", message)
}

func (l *Log) truncate(err error) string {
	if err == nil {
		return ""
	}
	r := []rune(err.Error())
	if len(r) > l.maxDetailLen {
		r = r[:l.maxDetailLen]
	}
	return string(r)
}

// Errors returns every retained entry, newest first.
func (l *Log) Errors(ctx context.Context) ([]domain.ErrorEntry, error) {
	rows, err := l.db.Query(ctx, `
		SELECT id, errorId, logDatetime, error, message
		FROM errors ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get errors: %w", err)
	}
	defer rows.Close()

	entries := []domain.ErrorEntry{}
	for rows.Next() {
		var e domain.ErrorEntry
		if err := rows.Scan(&e.ID, &e.ErrorID, &e.LogDatetime, &e.Error, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan error row: %w", err)
		}
		e.Datetime = storage.DateString(e.LogDatetime)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read error rows: %w", err)
	}
	return entries, nil
}

// Clear removes every entry.
func (l *Log) Clear(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, "DELETE FROM errors"); err != nil {
		return fmt.Errorf("failed to clear errors: %w", err)
	}
	return nil
}
