// Package parser reads decks written as comma separated text.
//
// The first line is a header whose first cell is literally "text"; the
// remaining header cells name the categories. Every following non blank line
// is one item with exactly as many cells as the header. Embedded commas
// cannot be escaped.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	textHeader = "text"
	separator  = ","
)

// Validation failures. Their messages are shown to users verbatim.
var (
	ErrIncomplete     = errors.New("CSV data is incomplete.")
	ErrFirstColumn    = errors.New("The first column must be text.")
	ErrColumnMismatch = errors.New("Mismatch in the number of categories")
	ErrNoItems        = errors.New("Deck must have at least one item.")
	ErrEmptyText      = errors.New("Item text cannot be empty.")
	ErrDuplicateText  = errors.New("Duplicate item text")
)

// Sheet is a parsed deck body.
type Sheet struct {
	Categories []string
	Items      [][]string
}

// ParseFile reads a file from the given path and parses it.
func ParseFile(path string) (*Sheet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// ParseString parses CSV text held in memory.
func ParseString(s string) (*Sheet, error) {
	return Parse(strings.NewReader(s))
}

// Parse reads from an io.Reader and returns the categories and items.
func Parse(r io.Reader) (*Sheet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(lines) < 2 {
		return nil, ErrIncomplete
	}

	headers := splitLine(lines[0])
	if headers[0] != textHeader {
		return nil, ErrFirstColumn
	}

	sheet := &Sheet{Categories: headers[1:]}
	seen := make(map[string]bool)
	for _, line := range lines[1:] {
		values := splitLine(line)
		if len(values) != len(headers) {
			return nil, ErrColumnMismatch
		}
		if values[0] == "" {
			return nil, ErrEmptyText
		}
		if seen[values[0]] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateText, values[0])
		}
		seen[values[0]] = true
		sheet.Items = append(sheet.Items, values)
	}

	if len(sheet.Items) == 0 {
		return nil, ErrNoItems
	}
	return sheet, nil
}

func splitLine(line string) []string {
	cells := strings.Split(line, separator)
	for i, c := range cells {
		cells[i] = norm.NFC.String(strings.TrimSpace(c))
	}
	return cells
}
