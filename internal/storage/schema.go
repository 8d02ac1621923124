package storage

// Tables are created in this order and dropped in reverse on Reset.
var tables = []string{"errors", "deck", "game_summary", "game_detail", "deck_summary", "deck_detail"}

var createStatements = []string{
	// 'errors' holds operational failures. It is pruned to the most recent
	// entries every time a new one is appended, so it stays small.
	`CREATE TABLE IF NOT EXISTS errors (
    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
    errorId INTEGER,
    logDatetime INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    error TEXT NOT NULL,
    message TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS errors_k1 ON errors (logDatetime DESC);`,

	// 'deck' stores deck definitions. categories is '|' joined, items is a
	// versioned JSON envelope around an array of rows.
	`CREATE TABLE IF NOT EXISTS deck (
    deckName TEXT NOT NULL PRIMARY KEY,
    categories TEXT NOT NULL,
    items TEXT NOT NULL
);`,

	// One row per completed game.
	`CREATE TABLE IF NOT EXISTS game_summary (
    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
    datetimeEnded INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    deckName TEXT NOT NULL,
    category TEXT NOT NULL,
    duration INTEGER NOT NULL,
    attempted INTEGER NOT NULL,
    correct INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS game_summary_k1 ON game_summary (deckName, datetimeEnded DESC);`,

	// One row per turn, kept only for the most recent games.
	`CREATE TABLE IF NOT EXISTS game_detail (
    id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
    gameId INTEGER NOT NULL,
    type TEXT NOT NULL,
    text TEXT NOT NULL,
    category TEXT NOT NULL,
    response TEXT NOT NULL,
    isCorrect TINYINT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS game_detail_k1 ON game_detail (gameId, id);`,

	// Deck level rollup across all games played.
	`CREATE TABLE IF NOT EXISTS deck_summary (
    deckName TEXT PRIMARY KEY NOT NULL,
    timesPlayed INTEGER NOT NULL,
    minCorrect INTEGER NOT NULL,
    maxCorrect INTEGER NOT NULL,
    minCorrectPerAttempt REAL NOT NULL,
    maxCorrectPerAttempt REAL NOT NULL,
    minCorrectPerMinute REAL NOT NULL,
    maxCorrectPerMinute REAL NOT NULL
);`,

	// Item level rollup across all games played.
	`CREATE TABLE IF NOT EXISTS deck_detail (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    deckName TEXT NOT NULL,
    text TEXT NOT NULL,
    numberAttempts INTEGER NOT NULL,
    numberCorrect INTEGER NOT NULL
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS deck_detail_k1 ON deck_detail (deckName, text);`,
}
