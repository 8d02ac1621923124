package parser

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name               string
		input              string
		expectedErr        error
		expectedCategories []string
		expectedItems      [][]string
	}{
		{
			name:               "Header and two items",
			input:              "text,English,French\none,one,un\ntwo,two,deux",
			expectedCategories: []string{"English", "French"},
			expectedItems:      [][]string{{"one", "one", "un"}, {"two", "two", "deux"}},
		},
		{
			name: "Whitespace and blank lines are trimmed",
			input: `
  text , reading
あ , a

い,  i
`,
			expectedCategories: []string{"reading"},
			expectedItems:      [][]string{{"あ", "a"}, {"い", "i"}},
		},
		{
			name:               "Windows line endings",
			input:              "text,meaning\r\ncat,neko\r\n",
			expectedCategories: []string{"meaning"},
			expectedItems:      [][]string{{"cat", "neko"}},
		},
		{
			name:               "Single category deck",
			input:              "text,romaji\nか,ka",
			expectedCategories: []string{"romaji"},
			expectedItems:      [][]string{{"か", "ka"}},
		},
		{
			name:        "Header only",
			input:       "text,English",
			expectedErr: ErrIncomplete,
		},
		{
			name:        "Empty input",
			input:       "   \n\n",
			expectedErr: ErrIncomplete,
		},
		{
			name:        "First column is not text",
			input:       "word,English\none,one",
			expectedErr: ErrFirstColumn,
		},
		{
			name:        "Too many values",
			input:       "text,English\none,one,un",
			expectedErr: ErrColumnMismatch,
		},
		{
			name:        "Too few values",
			input:       "text,English,French\none,one",
			expectedErr: ErrColumnMismatch,
		},
		{
			name:        "Empty text cell",
			input:       "text,English\n,one",
			expectedErr: ErrEmptyText,
		},
		{
			name:        "Duplicate text",
			input:       "text,English\none,one\none,uno",
			expectedErr: ErrDuplicateText,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sheet, err := ParseString(tc.input)
			if tc.expectedErr != nil {
				if !errors.Is(err, tc.expectedErr) {
					t.Fatalf("Expected error '%v', but got '%v'", tc.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() returned an unexpected error: %v", err)
			}
			if !reflect.DeepEqual(sheet.Categories, tc.expectedCategories) {
				t.Errorf("Expected categories %v, but got %v", tc.expectedCategories, sheet.Categories)
			}
			if !reflect.DeepEqual(sheet.Items, tc.expectedItems) {
				t.Errorf("Expected items %v, but got %v", tc.expectedItems, sheet.Items)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "numbers.csv")
	if err := os.WriteFile(path, []byte("text,English\none,one\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sheet, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() returned an unexpected error: %v", err)
	}
	if len(sheet.Items) != 1 {
		t.Errorf("Expected 1 item, but got %d", len(sheet.Items))
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
