package carddeck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCatalog(t *testing.T) *RedisCatalog {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisCatalog(rdb)
}

func seedWhite(t *testing.T, cat *RedisCatalog, n int) {
	t.Helper()
	cards := make([]Card, n)
	for i := range cards {
		cards[i] = Card{Text: fmt.Sprintf("white %d", i)}
	}
	if err := cat.Seed(context.Background(), "en", White, cards); err != nil {
		t.Fatalf("Seed: %v", err)
	}
}

func TestRedisCatalogSeedAndGet(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	seedWhite(t, cat, 3)

	n, err := cat.Count(ctx, "en", White)
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v, want 3", n, err)
	}
	card, err := cat.Get(ctx, "en", White, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if card.Text != "white 1" {
		t.Fatalf("card text = %q", card.Text)
	}
}

func TestRedisCatalogMisses(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	n, err := cat.Count(ctx, "en", Black)
	if err != nil || n != 0 {
		t.Fatalf("unseeded Count = %d, %v, want 0", n, err)
	}
	if _, err := cat.Get(ctx, "en", Black, 0); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("unseeded Get error = %v, want ErrCardNotFound", err)
	}
	if err := cat.Seed(ctx, "en", Black, nil); !errors.Is(err, ErrEmptyDeck) {
		t.Fatalf("empty Seed error = %v, want ErrEmptyDeck", err)
	}
}

func TestSupplyShuffledPool(t *testing.T) {
	cat := newTestCatalog(t)
	seedWhite(t, cat, 20)
	s := NewSupply(cat)

	pool, err := s.ShuffledPool(context.Background(), "en", White)
	if err != nil {
		t.Fatalf("ShuffledPool: %v", err)
	}
	if len(pool) != 20 {
		t.Fatalf("pool length = %d, want 20", len(pool))
	}
	seen := make(map[int]bool, len(pool))
	for _, idx := range pool {
		if idx < 0 || idx >= 20 || seen[idx] {
			t.Fatalf("pool is not a permutation: %v", pool)
		}
		seen[idx] = true
	}
}

func TestSupplyEmptyDeck(t *testing.T) {
	cat := newTestCatalog(t)
	s := NewSupply(cat)
	if _, err := s.ShuffledPool(context.Background(), "en", Black); !errors.Is(err, ErrEmptyDeck) {
		t.Fatalf("error = %v, want ErrEmptyDeck", err)
	}
}

const deckYAML = `language: en
black:
  - text: "Why? __."
  - text: "__ and __ forever."
    usage: 2
white:
  - text: "a toaster"
  - text: "existential dread"
  - text: "free pizza"
`

func writeDeckFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write deck file: %v", err)
	}
	return path
}

func TestLoadDeckFile(t *testing.T) {
	d, err := LoadDeckFile(writeDeckFile(t, deckYAML))
	if err != nil {
		t.Fatalf("LoadDeckFile: %v", err)
	}
	if d.Language != "en" || len(d.Black) != 2 || len(d.White) != 3 {
		t.Fatalf("unexpected deck: %+v", d)
	}
	if d.Black[1].Usage != 2 {
		t.Fatalf("usage not parsed: %+v", d.Black[1])
	}
}

func TestLoadDeckFileRejectsIncomplete(t *testing.T) {
	if _, err := LoadDeckFile(writeDeckFile(t, "black:\n  - text: x\nwhite:\n  - text: y\n")); err == nil {
		t.Fatal("missing language accepted")
	}
	if _, err := LoadDeckFile(writeDeckFile(t, "language: en\nwhite:\n  - text: y\n")); !errors.Is(err, ErrEmptyDeck) {
		t.Fatalf("empty black error = %v, want ErrEmptyDeck", err)
	}
}

func TestSeedFromFile(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()
	lang, err := SeedFromFile(ctx, cat, writeDeckFile(t, deckYAML))
	if err != nil {
		t.Fatalf("SeedFromFile: %v", err)
	}
	if lang != "en" {
		t.Fatalf("language = %q", lang)
	}
	if n, _ := cat.Count(ctx, "en", Black); n != 2 {
		t.Fatalf("black count = %d, want 2", n)
	}
	if n, _ := cat.Count(ctx, "en", White); n != 3 {
		t.Fatalf("white count = %d, want 3", n)
	}
}
