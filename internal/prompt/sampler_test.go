package prompt

import (
	"testing"

	"github.com/gaole-2025/rizzify-sub000/internal/model"
)

func testCatalog() *Catalog {
	primary := []model.Prompt{
		{ID: "p1", Catalog: model.CatalogPrimary, Gender: model.GenderMale, Text: "man in a navy suit"},
		{ID: "p2", Catalog: model.CatalogPrimary, Gender: model.GenderFemale, Text: "woman in a cream blazer"},
		{ID: "p3", Catalog: model.CatalogPrimary, Gender: model.GenderUnisex, Text: "window light portrait"},
	}
	secondary := []model.Prompt{
		{ID: "s1", Catalog: model.CatalogSecondary, Gender: model.GenderMale, Text: "man on a coastal trail"},
		{ID: "s2", Catalog: model.CatalogSecondary, Gender: model.GenderFemale, Text: "woman in a pottery studio"},
		{ID: "s3", Catalog: model.CatalogSecondary, Gender: model.GenderUnisex, Text: "portrait in a greenhouse"},
	}
	return NewCatalog(primary, secondary)
}

func TestSample_ExactCountAndDistinct(t *testing.T) {
	s := NewSampler(testCatalog())

	// 50 prompts from a catalog of 4 eligible entries forces heavy reuse;
	// every final text must still be distinct.
	prompts, err := s.Sample(model.GenderMale, 50)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if len(prompts) != 50 {
		t.Fatalf("expected 50 prompts, got %d", len(prompts))
	}

	seen := make(map[string]bool, len(prompts))
	for _, p := range prompts {
		if p.Text == "" {
			t.Fatal("got empty prompt text")
		}
		if seen[p.Text] {
			t.Fatalf("duplicate prompt text: %q", p.Text)
		}
		seen[p.Text] = true
	}
}

func TestSample_SplitsAcrossCatalogs(t *testing.T) {
	s := NewSampler(testCatalog())

	prompts, err := s.Sample(model.GenderFemale, 3)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if len(prompts) != 3 {
		t.Fatalf("expected 3 prompts, got %d", len(prompts))
	}

	// ceil(3/2)=2 from primary, 1 from secondary.
	counts := map[model.CatalogSource]int{}
	for _, p := range prompts {
		counts[p.Catalog]++
	}
	if counts[model.CatalogPrimary] != 2 {
		t.Errorf("expected 2 primary prompts, got %d", counts[model.CatalogPrimary])
	}
	if counts[model.CatalogSecondary] != 1 {
		t.Errorf("expected 1 secondary prompt, got %d", counts[model.CatalogSecondary])
	}
}

func TestSample_GenderFiltering(t *testing.T) {
	s := NewSampler(testCatalog())

	prompts, err := s.Sample(model.GenderMale, 4)
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	for _, p := range prompts {
		if p.Gender == model.GenderFemale {
			t.Errorf("female prompt %q sampled for male request", p.ID)
		}
	}
}

func TestSample_EmptyPoolFails(t *testing.T) {
	catalog := NewCatalog(
		[]model.Prompt{{ID: "p1", Catalog: model.CatalogPrimary, Gender: model.GenderFemale, Text: "woman portrait"}},
		[]model.Prompt{{ID: "s1", Catalog: model.CatalogSecondary, Gender: model.GenderFemale, Text: "woman outdoors"}},
	)
	s := NewSampler(catalog)

	if _, err := s.Sample(model.GenderMale, 2); err == nil {
		t.Fatal("expected error for gender with no eligible prompts")
	}
}

func TestSample_InvalidCount(t *testing.T) {
	s := NewSampler(testCatalog())
	if _, err := s.Sample(model.GenderMale, 0); err == nil {
		t.Fatal("expected error for zero count")
	}
}
