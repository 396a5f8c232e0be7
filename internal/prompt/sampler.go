package prompt

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gaole-2025/rizzify-sub000/internal/model"
)

// variationClauses are appended to reused prompts so that no two final
// prompt strings are byte-identical when a catalog is smaller than the
// requested quota.
var variationClauses = []string{
	"soft window light",
	"golden hour glow",
	"muted film grain",
	"shallow depth of field",
	"subtle rim lighting",
	"cool studio tones",
	"warm candid mood",
	"high-contrast shadows",
}

// Sampler draws plan-sized, deduplicated prompt lists from the catalog.
// Safe for concurrent use by multiple workers.
type Sampler struct {
	catalog *Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSampler(catalog *Catalog) *Sampler {
	return &Sampler{
		catalog: catalog,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Sample returns exactly count prompts for the gender, with pairwise
// distinct text. The quota is split ceil(count/2) from the primary catalog
// and the remainder from the secondary; each catalog's pool is its
// gender-specific prompts plus the unisex ones. When a pool is short,
// already-selected prompts are reused with an appended variation clause.
func (s *Sampler) Sample(gender model.Gender, count int) ([]model.Prompt, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid sample count %d", count)
	}

	primaryPool := filterByGender(s.catalog.primary, gender)
	secondaryPool := filterByGender(s.catalog.secondary, gender)
	if len(primaryPool) == 0 {
		return nil, fmt.Errorf("primary catalog has no prompts for gender %q", gender)
	}
	if len(secondaryPool) == 0 {
		return nil, fmt.Errorf("secondary catalog has no prompts for gender %q", gender)
	}

	primaryCount := (count + 1) / 2
	secondaryCount := count - primaryCount

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, count)
	out := s.pick(primaryPool, primaryCount, seen)
	out = append(out, s.pick(secondaryPool, secondaryCount, seen)...)

	s.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	return out, nil
}

// pick samples n prompts from pool without replacement; when the pool runs
// out it cycles over the already-selected prompts with variation clauses.
func (s *Sampler) pick(pool []model.Prompt, n int, seen map[string]bool) []model.Prompt {
	shuffled := make([]model.Prompt, len(pool))
	copy(shuffled, pool)
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	out := make([]model.Prompt, 0, n)
	for _, p := range shuffled {
		if len(out) == n {
			break
		}
		p.Text = s.uniqueText(p.Text, seen)
		out = append(out, p)
	}

	for i := 0; len(out) < n; i++ {
		reused := out[i%len(out)]
		reused.Text = s.uniqueText(reused.Text+", "+s.clause(), seen)
		out = append(out, reused)
	}

	return out
}

// uniqueText appends variation clauses until the text has not been issued
// in this sample, then records it.
func (s *Sampler) uniqueText(text string, seen map[string]bool) string {
	for seen[text] {
		text += ", " + s.clause()
	}
	seen[text] = true
	return text
}

func (s *Sampler) clause() string {
	return variationClauses[s.rng.Intn(len(variationClauses))]
}

func filterByGender(prompts []model.Prompt, gender model.Gender) []model.Prompt {
	var pool []model.Prompt
	for _, p := range prompts {
		if p.Gender == gender || p.Gender == model.GenderUnisex {
			pool = append(pool, p)
		}
	}
	return pool
}
