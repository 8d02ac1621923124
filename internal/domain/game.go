package domain

// Turn types recorded in game_detail.
const (
	TurnSave = "save"
	TurnSkip = "skip"
)

// RandomCategory is the category name recorded when a game drew prompts
// from every category.
const RandomCategory = "Random"

// Turn is one prompt and the player's response.
type Turn struct {
	Text      string `json:"text" validate:"required"`
	Type      string `json:"type" validate:"oneof=save skip"`
	Category  string `json:"category"`
	Response  string `json:"response"`
	IsCorrect bool   `json:"isCorrect"`
}

// GameRecord is a finished game handed over for logging.
// Duration is in seconds.
type GameRecord struct {
	DeckName string `json:"deckName" validate:"required"`
	Category string `json:"category" validate:"required"`
	Duration int    `json:"duration" validate:"gt=0"`
	Turns    []Turn `json:"turns" validate:"min=1,dive"`
}

// GameSummary is one row of game_summary.
type GameSummary struct {
	ID            int64  `json:"id"`
	DatetimeEnded int64  `json:"datetimeEnded"`
	Datetime      string `json:"datetime"`
	Ago           string `json:"ago"`
	DeckName      string `json:"deckName"`
	Category      string `json:"category"`
	Duration      int    `json:"duration"`
	Attempted     int    `json:"attempted"`
	Correct       int    `json:"correct"`
}

// GameDetail is one row of game_detail.
type GameDetail struct {
	ID     int64 `json:"id"`
	GameID int64 `json:"gameId"`
	Turn
}

// DeckSummary is the deck level rollup.
type DeckSummary struct {
	DeckName             string  `json:"deckName"`
	TimesPlayed          int     `json:"timesPlayed"`
	MinCorrect           int     `json:"minCorrect"`
	MaxCorrect           int     `json:"maxCorrect"`
	MinCorrectPerAttempt float64 `json:"minCorrectPerAttempt"`
	MaxCorrectPerAttempt float64 `json:"maxCorrectPerAttempt"`
	MinCorrectPerMinute  float64 `json:"minCorrectPerMinute"`
	MaxCorrectPerMinute  float64 `json:"maxCorrectPerMinute"`
}

// DeckDetail is the item level rollup.
type DeckDetail struct {
	DeckName       string `json:"deckName"`
	Text           string `json:"text"`
	NumberAttempts int    `json:"numberAttempts"`
	NumberCorrect  int    `json:"numberCorrect"`
}

// DeckStats bundles everything the statistics view shows for a deck.
type DeckStats struct {
	Summary DeckSummary   `json:"summary"`
	Games   []GameSummary `json:"games"`
	Details []DeckDetail  `json:"details"`
}

// GameLog is a single game with its turns.
type GameLog struct {
	Summary GameSummary  `json:"summary"`
	Details []GameDetail `json:"details"`
}
