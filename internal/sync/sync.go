// Package sync imports .csv deck files from local directories and git
// repositories.
package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/decklog/internal/gitsource"
	"github.com/conorfennell/decklog/internal/parser"
)

const maxParallelFetches = 4

// DeckImporter is the part of the deck store a sync needs.
type DeckImporter interface {
	DeckExists(ctx context.Context, name string) (bool, error)
	NewDeck(ctx context.Context, name string, categories []string, items [][]string) error
}

// FetchFunc makes a git source available at localPath.
type FetchFunc func(ctx context.Context, logger *slog.Logger, url, localPath string) error

// Failure records a source or file that could not be imported.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report summarises one sync run.
type Report struct {
	Imported []string  `json:"imported"`
	Skipped  []string  `json:"skipped"`
	Failed   []Failure `json:"failed"`
}

func (r *Report) fail(path string, err error) {
	r.Failed = append(r.Failed, Failure{Path: path, Error: err.Error()})
}

// Syncer imports decks from sources.
type Syncer struct {
	decks    DeckImporter
	reposDir string
	logger   *slog.Logger
	fetch    FetchFunc
}

// New returns a Syncer cloning git sources under reposDir.
func New(decks DeckImporter, reposDir string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{decks: decks, reposDir: reposDir, logger: logger, fetch: gitsource.Sync}
}

// RunSync fetches git sources, then creates a deck for every .csv file whose
// base name is not already a deck. Existing decks are never modified. Per
// source and per file failures are collected in the report; the returned
// error is only set when ctx is cancelled.
func (s *Syncer) RunSync(ctx context.Context, sources []string) (*Report, error) {
	s.logger.Info("Starting sync process", "sources", len(sources))
	report := &Report{Imported: []string{}, Skipped: []string{}, Failed: []Failure{}}
	if len(sources) == 0 {
		s.logger.Info("No sources configured")
		return report, nil
	}

	dirs, fetchErrs := s.resolve(ctx, sources)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, src := range sources {
		if fetchErrs[i] != nil {
			s.logger.Error("Error syncing source", "source", src, "error", fetchErrs[i])
			report.fail(src, fetchErrs[i])
			continue
		}
		if err := s.importDir(ctx, dirs[i], report); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Sync process complete",
		"imported", len(report.Imported),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
	return report, nil
}

// resolve maps each source to a local directory, fetching git sources in
// parallel.
func (s *Syncer) resolve(ctx context.Context, sources []string) ([]string, []error) {
	dirs := make([]string, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for i, src := range sources {
		if !isGitURL(src) {
			dirs[i] = src
			continue
		}
		g.Go(func() error {
			local, err := gitURLToLocalPath(s.reposDir, src)
			if err != nil {
				errs[i] = err
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
				errs[i] = fmt.Errorf("failed to create repos directory: %w", err)
				return nil
			}
			if err := s.fetch(gctx, s.logger, src, local); err != nil {
				errs[i] = err
				return nil
			}
			dirs[i] = local
			return nil
		})
	}
	_ = g.Wait()
	return dirs, errs
}

func (s *Syncer) importDir(ctx context.Context, dir string, report *Report) error {
	info, err := os.Stat(dir)
	if err != nil {
		report.fail(dir, err)
		return nil
	}
	if !info.IsDir() {
		report.fail(dir, fmt.Errorf("%s is not a directory", dir))
		return nil
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".csv") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.importFile(ctx, path, report)
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error("Error walking directory", "path", dir, "error", walkErr)
		report.fail(dir, walkErr)
	}
	return nil
}

func (s *Syncer) importFile(ctx context.Context, path string, report *Report) {
	name := strings.TrimSpace(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	exists, err := s.decks.DeckExists(ctx, name)
	if err != nil {
		report.fail(path, err)
		return
	}
	if exists {
		s.logger.Debug("Deck already exists, skipping", "deck", name, "path", path)
		report.Skipped = append(report.Skipped, name)
		return
	}

	sheet, err := parser.ParseFile(path)
	if err != nil {
		report.fail(path, err)
		return
	}
	if err := s.decks.NewDeck(ctx, name, sheet.Categories, sheet.Items); err != nil {
		report.fail(path, err)
		return
	}
	s.logger.Info("Deck imported", "deck", name, "items", len(sheet.Items))
	report.Imported = append(report.Imported, name)
}

func isGitURL(src string) bool {
	if strings.HasSuffix(src, ".git") {
		return true
	}
	u, err := url.Parse(src)
	if err == nil && (u.Scheme == "https" || u.Scheme == "http" || u.Scheme == "ssh" || u.Scheme == "git") {
		return true
	}
	return strings.HasPrefix(src, "git@")
}

func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || parsedURL.Host == "" {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		if err == nil && (parsedURL.Scheme == "" || parsedURL.Scheme == "file") {
			// Local repository path.
			clean := strings.TrimSuffix(filepath.Clean(parsedURL.Path), ".git")
			return filepath.Join(baseDir, "local", filepath.Base(clean)), nil
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
