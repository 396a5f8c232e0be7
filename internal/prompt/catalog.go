package prompt

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gaole-2025/rizzify-sub000/internal/model"
)

// Catalog holds the two prompt source catalogs, loaded once per process.
type Catalog struct {
	primary   []model.Prompt
	secondary []model.Prompt
}

type catalogEntry struct {
	ID     string       `json:"id"`
	Gender model.Gender `json:"gender"`
	Text   string       `json:"text"`
}

// LoadCatalog reads both catalog files. Missing or empty catalogs are a
// configuration error, caught at startup rather than on first sample.
func LoadCatalog(primaryPath, secondaryPath string) (*Catalog, error) {
	primary, err := loadFile(primaryPath, model.CatalogPrimary)
	if err != nil {
		return nil, fmt.Errorf("load primary catalog: %w", err)
	}
	secondary, err := loadFile(secondaryPath, model.CatalogSecondary)
	if err != nil {
		return nil, fmt.Errorf("load secondary catalog: %w", err)
	}
	return &Catalog{primary: primary, secondary: secondary}, nil
}

// NewCatalog builds a catalog from in-memory prompt lists.
func NewCatalog(primary, secondary []model.Prompt) *Catalog {
	return &Catalog{primary: primary, secondary: secondary}
}

func loadFile(path string, source model.CatalogSource) ([]model.Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog %s is empty", path)
	}

	prompts := make([]model.Prompt, 0, len(entries))
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		prompts = append(prompts, model.Prompt{
			ID:      e.ID,
			Catalog: source,
			Gender:  e.Gender,
			Text:    e.Text,
		})
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("catalog %s has no usable entries", path)
	}
	return prompts, nil
}
