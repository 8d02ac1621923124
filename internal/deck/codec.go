package deck

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const (
	categorySeparator = "|"
	itemsVersion      = 1
)

// itemsEnvelope is the stored form of the items column. Rows written before
// the envelope existed are a bare JSON array and are still accepted.
type itemsEnvelope struct {
	Version int        `json:"version"`
	Items   [][]string `json:"items"`
}

func encodeItems(items [][]string) (string, error) {
	b, err := json.Marshal(itemsEnvelope{Version: itemsVersion, Items: items})
	if err != nil {
		return "", fmt.Errorf("failed to encode items: %w", err)
	}
	return string(b), nil
}

func decodeItems(s string) ([][]string, error) {
	raw := bytes.TrimSpace([]byte(s))
	if len(raw) > 0 && raw[0] == '[' {
		var items [][]string
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode items: %w", err)
		}
		return items, nil
	}

	var env itemsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	if env.Version != itemsVersion {
		return nil, fmt.Errorf("unsupported items version %d", env.Version)
	}
	return env.Items, nil
}

func joinCategories(categories []string) string {
	return strings.Join(categories, categorySeparator)
}

func splitCategories(s string) []string {
	return strings.Split(s, categorySeparator)
}
