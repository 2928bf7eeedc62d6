package carddeck

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Supply produces shuffled index pools over a catalog. A pool is a uniform
// permutation of [0, count); dealing pops from the head. Reproducibility is
// not required, the source is time-seeded.
type Supply struct {
	catalog Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSupply(catalog Catalog) *Supply {
	return &Supply{
		catalog: catalog,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ShuffledPool builds a fresh pool for one color.
func (s *Supply) ShuffledPool(ctx context.Context, language string, color Color) ([]int, error) {
	n, err := s.catalog.Count(ctx, language, color)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrEmptyDeck
	}
	s.mu.Lock()
	pool := s.rng.Perm(n)
	s.mu.Unlock()
	return pool, nil
}

// Refresh rebuilds both pools of a language together. Callers persist the two
// pools in one combined write, so a half-refreshed pair never leaves here.
func (s *Supply) Refresh(ctx context.Context, language string) (black, white []int, err error) {
	black, err = s.ShuffledPool(ctx, language, Black)
	if err != nil {
		return nil, nil, err
	}
	white, err = s.ShuffledPool(ctx, language, White)
	if err != nil {
		return nil, nil, err
	}
	return black, white, nil
}
