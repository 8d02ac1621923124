// Package web serves the deck store, game log and diagnostic log as a JSON
// HTTP API.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/conorfennell/decklog/internal/deck"
	"github.com/conorfennell/decklog/internal/diag"
	"github.com/conorfennell/decklog/internal/domain"
	"github.com/conorfennell/decklog/internal/gamelog"
	"github.com/conorfennell/decklog/internal/prefs"
	"github.com/conorfennell/decklog/internal/sync"
)

const maxBodyBytes = 4 << 20

// Decks is the deck store surface the API uses.
type Decks interface {
	DecksSummary(ctx context.Context) ([]domain.DeckListing, error)
	GetDeck(ctx context.Context, name string) (*domain.Deck, error)
	CreateDeckFromCSV(ctx context.Context, name, csv string) error
	DeleteDeck(ctx context.Context, name string) error
	ChangeDeckName(ctx context.Context, oldName, newName string) error
	ChangeCategoryName(ctx context.Context, deckName, oldCategory, newCategory string) error
	AddDeckItem(ctx context.Context, deckName string, item []string) error
	UpdateDeckItem(ctx context.Context, deckName, oldText string, item []string) error
	DeleteDeckItem(ctx context.Context, deckName, text string) error
	ResetDecks(ctx context.Context) error
}

// Games is the game log surface the API uses.
type Games interface {
	LogGame(ctx context.Context, rec domain.GameRecord) (int64, error)
	GamesLog(ctx context.Context) ([]domain.GameSummary, error)
	GameLog(ctx context.Context, gameID int64) (*domain.GameLog, error)
	DeckStats(ctx context.Context, deckName string) (*domain.DeckStats, error)
	ClearDeck(ctx context.Context, deckName string) error
	ClearAll(ctx context.Context) error
}

// Errors is the diagnostic log surface the API uses.
type Errors interface {
	Errors(ctx context.Context) ([]domain.ErrorEntry, error)
	Clear(ctx context.Context) error
}

// Syncer imports decks from the configured sources.
type Syncer interface {
	RunSync(ctx context.Context, sources []string) (*sync.Report, error)
}

// Prefs stores the last selection of the player.
type Prefs interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

var (
	_ Decks  = (*deck.Store)(nil)
	_ Games  = (*gamelog.Engine)(nil)
	_ Errors = (*diag.Log)(nil)
	_ Syncer = (*sync.Syncer)(nil)
	_ Prefs  = (*prefs.Store)(nil)
)

// Deps are the services behind the API.
type Deps struct {
	Decks   Decks
	Games   Games
	Errors  Errors
	Syncer  Syncer
	Prefs   Prefs
	Sources []string
	Logger  *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	Deps
	router *http.ServeMux
}

// NewServer creates and configures a new server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{Deps: deps, router: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /decks", s.handleListDecks())
	s.router.HandleFunc("POST /decks", s.handleCreateDeck())
	s.router.HandleFunc("GET /decks/{name}", s.handleGetDeck())
	s.router.HandleFunc("DELETE /decks/{name}", s.handleDeleteDeck())
	s.router.HandleFunc("PUT /decks/{name}/name", s.handleRenameDeck())
	s.router.HandleFunc("PUT /decks/{name}/categories/{category}", s.handleRenameCategory())
	s.router.HandleFunc("POST /decks/{name}/items", s.handleAddItem())
	s.router.HandleFunc("PUT /decks/{name}/items/{text}", s.handleUpdateItem())
	s.router.HandleFunc("DELETE /decks/{name}/items/{text}", s.handleDeleteItem())

	s.router.HandleFunc("POST /games", s.handleLogGame())
	s.router.HandleFunc("GET /games", s.handleListGames())
	s.router.HandleFunc("GET /games/{id}", s.handleGetGame())

	s.router.HandleFunc("GET /stats/{name}", s.handleDeckStats())
	s.router.HandleFunc("DELETE /stats/{name}", s.handleClearDeck())
	s.router.HandleFunc("DELETE /stats", s.handleClearAll())

	s.router.HandleFunc("GET /errors", s.handleListErrors())
	s.router.HandleFunc("DELETE /errors", s.handleClearErrors())

	s.router.HandleFunc("GET /prefs/{key}", s.handleGetPref())
	s.router.HandleFunc("PUT /prefs/{key}", s.handleSetPref())

	s.router.HandleFunc("POST /reset", s.handleReset())
	s.router.HandleFunc("POST /sync", s.handleSync())
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure maps a service error to a status code.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verr *deck.ValidationError
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.Is(err, deck.ErrDeckNotFound),
		errors.Is(err, deck.ErrItemNotFound),
		errors.Is(err, deck.ErrCategoryNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, deck.ErrDeckExists),
		errors.Is(err, deck.ErrItemExists),
		errors.Is(err, deck.ErrCategoryExists),
		errors.Is(err, deck.ErrLastItem):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &verr), errors.Is(err, deck.ErrItemShape):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &fieldErrs):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.Logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) handleListDecks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decks, err := s.Decks.DecksSummary(r.Context())
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, decks)
	}
}

type createDeckRequest struct {
	Name string `json:"name"`
	CSV  string `json:"csv"`
}

func (s *Server) handleCreateDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createDeckRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if err := s.Decks.CreateDeckFromCSV(r.Context(), req.Name, req.CSV); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		d, err := s.Decks.GetDeck(r.Context(), req.Name)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, d)
	}
}

func (s *Server) handleGetDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.Decks.GetDeck(r.Context(), r.PathValue("name"))
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		if d == nil {
			s.writeError(w, http.StatusNotFound, deck.ErrDeckNotFound.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, d)
	}
}

func (s *Server) handleDeleteDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Decks.DeleteDeck(r.Context(), r.PathValue("name")); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req renameRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := s.Decks.ChangeDeckName(r.Context(), r.PathValue("name"), req.Name); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleRenameCategory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req renameRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		err := s.Decks.ChangeCategoryName(r.Context(), r.PathValue("name"), r.PathValue("category"), req.Name)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type itemRequest struct {
	Item []string `json:"item"`
}

func (s *Server) handleAddItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req itemRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := s.Decks.AddDeckItem(r.Context(), r.PathValue("name"), req.Item); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleUpdateItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req itemRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		err := s.Decks.UpdateDeckItem(r.Context(), r.PathValue("name"), r.PathValue("text"), req.Item)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Decks.DeleteDeckItem(r.Context(), r.PathValue("name"), r.PathValue("text")); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type logGameResponse struct {
	ID int64 `json:"id"`
}

func (s *Server) handleLogGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rec domain.GameRecord
		if err := decodeBody(r, &rec); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		id, err := s.Games.LogGame(r.Context(), rec)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, logGameResponse{ID: id})
	}
}

func (s *Server) handleListGames() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games, err := s.Games.GamesLog(r.Context())
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, games)
	}
}

func (s *Server) handleGetGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid game id")
			return
		}
		game, err := s.Games.GameLog(r.Context(), id)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		if game == nil {
			s.writeError(w, http.StatusNotFound, "game not found")
			return
		}
		s.writeJSON(w, http.StatusOK, game)
	}
}

func (s *Server) handleDeckStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Games.DeckStats(r.Context(), r.PathValue("name"))
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		if stats == nil {
			s.writeError(w, http.StatusNotFound, "no statistics for deck")
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleClearDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Games.ClearDeck(r.Context(), r.PathValue("name")); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleClearAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Games.ClearAll(r.Context()); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListErrors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.Errors.Errors(r.Context())
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleClearErrors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Errors.Clear(r.Context()); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type prefBody struct {
	Value string `json:"value"`
}

func (s *Server) handleGetPref() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok, err := s.Prefs.Get(r.PathValue("key"))
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		if !ok {
			s.writeError(w, http.StatusNotFound, "preference not set")
			return
		}
		s.writeJSON(w, http.StatusOK, prefBody{Value: v})
	}
}

func (s *Server) handleSetPref() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req prefBody
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := s.Prefs.Set(r.PathValue("key"), req.Value); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Decks.ResetDecks(r.Context()); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSync runs a sync in the foreground and returns its report.
func (s *Server) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.Syncer.RunSync(r.Context(), s.Sources)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, report)
	}
}
