package model

// Prompt is one catalog entry. The catalogs are read-only reference data
// loaded once per process.
type Prompt struct {
	ID      string        `json:"id"`
	Catalog CatalogSource `json:"catalog"`
	Gender  Gender        `json:"gender"`
	Text    string        `json:"text"`
}
