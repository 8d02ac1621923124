package domain

// Action says how a diagnostic entry is handled. Everything but
// ActionToastOnly is persisted.
type Action string

const (
	ActionLog       Action = "log"
	ActionToast     Action = "toast"
	ActionConsole   Action = "console"
	ActionBoth      Action = "both"
	ActionToastOnly Action = "toastonly"
)

// ErrorEntry is one row of the errors table.
type ErrorEntry struct {
	ID          int64  `json:"id"`
	ErrorID     int    `json:"errorId"`
	LogDatetime int64  `json:"logDatetime"`
	Datetime    string `json:"datetime"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message"`
}
