package carddeck

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisCatalog stores card documents as JSON under cards:<lang>:<color>:<index>
// with a companion count key, one namespace per language and color.
type RedisCatalog struct {
	rdb *redis.Client
}

func NewRedisCatalog(rdb *redis.Client) *RedisCatalog { return &RedisCatalog{rdb: rdb} }

func cardKey(language string, color Color, index int) string {
	return "cards:" + language + ":" + string(color) + ":" + strconv.Itoa(index)
}

func countKey(language string, color Color) string {
	return "cards:" + language + ":" + string(color) + ":count"
}

func (c *RedisCatalog) Count(ctx context.Context, language string, color Color) (int, error) {
	n, err := c.rdb.Get(ctx, countKey(language, color)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *RedisCatalog) Get(ctx context.Context, language string, color Color, index int) (Card, error) {
	raw, err := c.rdb.Get(ctx, cardKey(language, color, index)).Bytes()
	if err == redis.Nil {
		return Card{}, fmt.Errorf("%w: %s/%s/%d", ErrCardNotFound, language, color, index)
	}
	if err != nil {
		return Card{}, err
	}
	var card Card
	if err := json.Unmarshal(raw, &card); err != nil {
		return Card{}, err
	}
	return card, nil
}

// Seed loads a full deck for one language and color, replacing the count key.
// Index order follows the slice order so that pool indices stay stable.
func (c *RedisCatalog) Seed(ctx context.Context, language string, color Color, cards []Card) error {
	if len(cards) == 0 {
		return fmt.Errorf("%w: %s/%s", ErrEmptyDeck, language, color)
	}
	pipe := c.rdb.Pipeline()
	for i, card := range cards {
		raw, err := json.Marshal(card)
		if err != nil {
			return err
		}
		pipe.Set(ctx, cardKey(language, color, i), raw, 0)
	}
	pipe.Set(ctx, countKey(language, color), len(cards), 0)
	_, err := pipe.Exec(ctx)
	return err
}
