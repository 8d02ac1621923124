package gamelog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/decklog/internal/deck"
	"github.com/conorfennell/decklog/internal/diag"
	"github.com/conorfennell/decklog/internal/domain"
	"github.com/conorfennell/decklog/internal/storage"
)

type fixture struct {
	db     *storage.DB
	diag   *diag.Log
	decks  *deck.Store
	engine *Engine
}

type fakeSelection struct {
	cleared int
	err     error
}

func (f *fakeSelection) ClearSelection() error {
	f.cleared++
	return f.err
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d := diag.New(db)
	decks := deck.NewStore(db, d, nil)
	opts = append([]Option{WithSeeder(decks)}, opts...)
	f := &fixture{db: db, diag: d, decks: decks, engine: New(db, d, opts...)}

	require.NoError(t, decks.NewDeck(context.Background(), "Numbers",
		[]string{"English", "French"},
		[][]string{{"one", "one", "un"}, {"two", "two", "deux"}}))
	return f
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func game(deckName string, duration int, results ...bool) domain.GameRecord {
	texts := []string{"one", "two"}
	rec := domain.GameRecord{DeckName: deckName, Category: "French", Duration: duration}
	for i, ok := range results {
		rec.Turns = append(rec.Turns, domain.Turn{
			Text:      texts[i%len(texts)],
			Type:      domain.TurnSave,
			Category:  "French",
			Response:  "un",
			IsCorrect: ok,
		})
	}
	return rec
}

func assertSummaryInvariants(t *testing.T, s domain.DeckSummary) {
	t.Helper()
	assert.LessOrEqual(t, s.MinCorrect, s.MaxCorrect)
	assert.LessOrEqual(t, s.MinCorrectPerAttempt, s.MaxCorrectPerAttempt)
	assert.LessOrEqual(t, s.MinCorrectPerMinute, s.MaxCorrectPerMinute)
}

func TestComputeMetrics(t *testing.T) {
	testCases := []struct {
		name     string
		rec      domain.GameRecord
		expected Metrics
	}{
		{
			name:     "all correct in a minute",
			rec:      game("d", 60, true, true),
			expected: Metrics{Attempted: 2, Correct: 2, CorrectPerAttempt: 100, CorrectPerMinute: 2},
		},
		{
			name:     "one of three in thirty seconds",
			rec:      game("d", 30, true, false, false),
			expected: Metrics{Attempted: 3, Correct: 1, CorrectPerAttempt: 33.33, CorrectPerMinute: 2},
		},
		{
			name:     "none correct in two minutes",
			rec:      game("d", 120, false),
			expected: Metrics{Attempted: 1, Correct: 0, CorrectPerAttempt: 0, CorrectPerMinute: 0},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ComputeMetrics(tc.rec))
		})
	}
}

func TestLogGameRollups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.LogGame(ctx, game("Numbers", 60, true, true))
	require.NoError(t, err)

	stats, err := f.engine.DeckStats(ctx, "Numbers")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, domain.DeckSummary{
		DeckName:             "Numbers",
		TimesPlayed:          1,
		MinCorrect:           2,
		MaxCorrect:           2,
		MinCorrectPerAttempt: 100,
		MaxCorrectPerAttempt: 100,
		MinCorrectPerMinute:  2,
		MaxCorrectPerMinute:  2,
	}, stats.Summary)

	_, err = f.engine.LogGame(ctx, game("Numbers", 60, true, false))
	require.NoError(t, err)

	stats, err = f.engine.DeckStats(ctx, "Numbers")
	require.NoError(t, err)
	assert.Equal(t, domain.DeckSummary{
		DeckName:             "Numbers",
		TimesPlayed:          2,
		MinCorrect:           1,
		MaxCorrect:           2,
		MinCorrectPerAttempt: 50,
		MaxCorrectPerAttempt: 100,
		MinCorrectPerMinute:  1,
		MaxCorrectPerMinute:  2,
	}, stats.Summary)
	assertSummaryInvariants(t, stats.Summary)

	require.Len(t, stats.Games, 2)
	assert.Greater(t, stats.Games[0].ID, stats.Games[1].ID)
	assert.Equal(t, 1, stats.Games[0].Correct)
	assert.NotEmpty(t, stats.Games[0].Datetime)
	assert.NotEmpty(t, stats.Games[0].Ago)

	require.Len(t, stats.Details, 2)
	assert.Equal(t, domain.DeckDetail{DeckName: "Numbers", Text: "one", NumberAttempts: 2, NumberCorrect: 2}, stats.Details[0])
	assert.Equal(t, domain.DeckDetail{DeckName: "Numbers", Text: "two", NumberAttempts: 2, NumberCorrect: 1}, stats.Details[1])
}

func TestLogGameUnknownDeck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.LogGame(ctx, game("Loose", 30, true, false))
	require.ErrorIs(t, err, deck.ErrDeckNotFound)

	for _, q := range []string{
		"SELECT count(*) FROM game_summary",
		"SELECT count(*) FROM game_detail",
		"SELECT count(*) FROM deck_summary WHERE deckName = 'Loose'",
		"SELECT count(*) FROM deck_detail WHERE deckName = 'Loose'",
	} {
		assert.Zero(t, f.count(t, q), q)
	}

	stats, err := f.engine.DeckStats(ctx, "Loose")
	require.NoError(t, err)
	assert.Nil(t, stats)

	// The name stays free for a rename.
	require.NoError(t, f.decks.ChangeDeckName(ctx, "Numbers", "Loose"))
	stats, err = f.engine.DeckStats(ctx, "Loose")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Zero(t, stats.Summary.TimesPlayed)
}

func TestLogGameSkipsDoNotCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := game("Numbers", 60, true)
	rec.Turns = append(rec.Turns, domain.Turn{Text: "two", Type: domain.TurnSkip, Category: "French"})
	_, err := f.engine.LogGame(ctx, rec)
	require.NoError(t, err)

	stats, err := f.engine.DeckStats(ctx, "Numbers")
	require.NoError(t, err)
	for _, d := range stats.Details {
		assert.LessOrEqual(t, d.NumberCorrect, d.NumberAttempts)
		if d.Text == "two" {
			assert.Zero(t, d.NumberAttempts)
		}
	}
	assert.Equal(t, 2, f.count(t, "SELECT count(*) FROM game_detail"))
}

func TestLogGameBackfillsDeletedItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.LogGame(ctx, game("Numbers", 60, true, true))
	require.NoError(t, err)
	require.NoError(t, f.decks.DeleteDeckItem(ctx, "Numbers", "two"))
	assert.Zero(t, f.count(t, "SELECT count(*) FROM deck_detail WHERE text = 'two'"))

	_, err = f.engine.LogGame(ctx, game("Numbers", 60, true))
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM deck_detail WHERE deckName = 'Numbers' AND text = 'two'"))
}

func TestLogGamePrunesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 250; i++ {
		id, err := f.engine.LogGame(ctx, game("Numbers", 60, i%2 == 0, true))
		require.NoError(t, err)
		last = id
	}

	assert.Equal(t, DefaultMaxGames, f.count(t, "SELECT count(*) FROM game_summary"))
	assert.Equal(t, int(last-DefaultMaxGames+1), f.count(t, "SELECT min(id) FROM game_summary"))
	assert.Zero(t, f.count(t, "SELECT count(*) FROM game_detail WHERE gameId NOT IN (SELECT id FROM game_summary)"))
	assert.Equal(t, 2*DefaultMaxGames, f.count(t, "SELECT count(*) FROM game_detail"))

	stats, err := f.engine.DeckStats(ctx, "Numbers")
	require.NoError(t, err)
	assert.Equal(t, 250, stats.Summary.TimesPlayed)
	assert.Len(t, stats.Games, DefaultMaxGames)
	assertSummaryInvariants(t, stats.Summary)
}

func TestLogGamePruneIsGlobal(t *testing.T) {
	f := newFixture(t, WithMaxGames(3))
	ctx := context.Background()
	require.NoError(t, f.decks.NewDeck(ctx, "Other", []string{"c"}, [][]string{{"one", "x"}, {"two", "y"}}))

	for i := 0; i < 3; i++ {
		_, err := f.engine.LogGame(ctx, game("Numbers", 60, true))
		require.NoError(t, err)
	}
	_, err := f.engine.LogGame(ctx, game("Other", 60, true))
	require.NoError(t, err)

	assert.Equal(t, 3, f.count(t, "SELECT count(*) FROM game_summary"))
	assert.Equal(t, 2, f.count(t, "SELECT count(*) FROM game_summary WHERE deckName = 'Numbers'"))
}

func TestLogGameIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.db.Exec(ctx, `
		CREATE TRIGGER fail_detail BEFORE UPDATE ON deck_detail
		BEGIN SELECT RAISE(ABORT, 'detail write failed'); END
	`)
	require.NoError(t, err)

	_, err = f.engine.LogGame(ctx, game("Numbers", 60, true, true))
	require.Error(t, err)

	assert.Zero(t, f.count(t, "SELECT count(*) FROM game_summary"))
	assert.Zero(t, f.count(t, "SELECT count(*) FROM game_detail"))
	assert.Zero(t, f.count(t, "SELECT timesPlayed FROM deck_summary WHERE deckName = 'Numbers'"))

	entries, err := f.diag.Errors(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, errIDLogGame, entries[0].ErrorID)
	assert.Contains(t, entries[0].Error, "detail write failed")
}

func TestLogGameRejectsInvalidRecords(t *testing.T) {
	testCases := []struct {
		name string
		rec  domain.GameRecord
	}{
		{name: "no deck", rec: game("", 60, true)},
		{name: "no turns", rec: game("Numbers", 60)},
		{name: "zero duration", rec: game("Numbers", 0, true)},
		{name: "bad turn type", rec: func() domain.GameRecord {
			r := game("Numbers", 60, true)
			r.Turns[0].Type = "pass"
			return r
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.LogGame(context.Background(), tc.rec)
			assert.Error(t, err)
			assert.Zero(t, f.count(t, "SELECT count(*) FROM game_summary"))
			assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM errors WHERE errorId = ?", errIDLogGame))
		})
	}
}

func TestGameLogAndGamesLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.LogGame(ctx, game("Numbers", 60, true, false))
	require.NoError(t, err)

	log, err := f.engine.GameLog(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, "Numbers", log.Summary.DeckName)
	assert.Equal(t, 2, log.Summary.Attempted)
	require.Len(t, log.Details, 2)
	assert.Equal(t, "one", log.Details[0].Text)
	assert.True(t, log.Details[0].IsCorrect)
	assert.False(t, log.Details[1].IsCorrect)

	missing, err := f.engine.GameLog(ctx, id+100)
	require.NoError(t, err)
	assert.Nil(t, missing)

	games, err := f.engine.GamesLog(ctx)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, id, games[0].ID)
}

func TestDeckStatsNotFound(t *testing.T) {
	f := newFixture(t)
	stats, err := f.engine.DeckStats(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestClearDeck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.decks.NewDeck(ctx, "Other", []string{"c"}, [][]string{{"one", "x"}}))
	_, err := f.engine.LogGame(ctx, game("Numbers", 60, true, true))
	require.NoError(t, err)
	_, err = f.engine.LogGame(ctx, game("Other", 60, true))
	require.NoError(t, err)

	require.NoError(t, f.engine.ClearDeck(ctx, "Numbers"))

	assert.Zero(t, f.count(t, "SELECT count(*) FROM game_summary WHERE deckName = 'Numbers'"))
	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM game_summary WHERE deckName = 'Other'"))
	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM game_detail"))

	stats, err := f.engine.DeckStats(ctx, "Numbers")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Zero(t, stats.Summary.TimesPlayed)
	assert.Empty(t, stats.Games)
	require.Len(t, stats.Details, 2)
	assert.Zero(t, stats.Details[0].NumberAttempts)

	d, err := f.decks.GetDeck(ctx, "Numbers")
	require.NoError(t, err)
	assert.NotNil(t, d)

	_, err = f.engine.LogGame(ctx, game("Numbers", 60, false, true))
	require.NoError(t, err)
	stats, err = f.engine.DeckStats(ctx, "Numbers")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Summary.MinCorrect)
	assert.Equal(t, 1, stats.Summary.MaxCorrect)
}

func TestClearAll(t *testing.T) {
	sel := &fakeSelection{}
	f := newFixture(t, WithSelection(sel))
	ctx := context.Background()
	_, err := f.engine.LogGame(ctx, game("Numbers", 60, true, true))
	require.NoError(t, err)

	require.NoError(t, f.engine.ClearAll(ctx))

	assert.Zero(t, f.count(t, "SELECT count(*) FROM game_summary"))
	assert.Zero(t, f.count(t, "SELECT count(*) FROM game_detail"))
	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM deck"))
	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM deck_summary WHERE timesPlayed = 0"))
	assert.Equal(t, 2, f.count(t, "SELECT count(*) FROM deck_detail WHERE numberAttempts = 0"))
	assert.Equal(t, 1, sel.cleared)
	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM errors WHERE errorId = ?", errIDReset))
}

func TestClearAllReportsSelectionFailure(t *testing.T) {
	sel := &fakeSelection{err: errors.New("read-only")}
	f := newFixture(t, WithSelection(sel))

	err := f.engine.ClearAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM errors WHERE errorId = ?", errIDClearAll))
}
