// Package userstore persists per-person records in the shared store so a
// player can resume a match from another session. Each client process only
// writes its own user document.
package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/gproductions/cardsagainst/internal/matchdoc"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrNicknameTaken = errors.New("nickname already taken")
)

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func userKey(uid string) string { return "user:" + strings.TrimSpace(uid) }

func nicknameKey(nickname string) string {
	return "user:nickname:" + strings.ToLower(strings.TrimSpace(nickname))
}

// ClaimNickname reserves a nickname for a uid. The claim is idempotent for
// the owning uid and fails for everyone else.
func (s *Store) ClaimNickname(ctx context.Context, nickname, uid string) error {
	key := nicknameKey(nickname)
	ok, err := s.rdb.SetNX(ctx, key, uid, 0).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	owner, err := s.rdb.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if owner != uid {
		return fmt.Errorf("%w: %s", ErrNicknameTaken, nickname)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, u *matchdoc.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, userKey(u.UID), raw, 0).Err()
}

func (s *Store) Get(ctx context.Context, uid string) (*matchdoc.User, error) {
	raw, err := s.rdb.Get(ctx, userKey(uid)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	if err != nil {
		return nil, err
	}
	var u matchdoc.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SetMatch points the user at a match, or clears the reference when name is
// empty.
func (s *Store) SetMatch(ctx context.Context, uid, name string) error {
	return s.mutate(ctx, uid, func(u *matchdoc.User) {
		u.MatchName = name
	})
}

// ApplyReward records one finished match: cumulative points grow by the
// reward share, the play counter increments and the match reference clears.
func (s *Store) ApplyReward(ctx context.Context, uid string, reward float64) (*matchdoc.User, error) {
	var out *matchdoc.User
	err := s.mutate(ctx, uid, func(u *matchdoc.User) {
		u.Points += reward
		u.MatchPlayed++
		u.MatchName = ""
		out = u
	})
	return out, err
}

func (s *Store) mutate(ctx context.Context, uid string, fn func(*matchdoc.User)) error {
	key := userKey(uid)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", ErrNotFound, uid)
		}
		if err != nil {
			return err
		}
		var u matchdoc.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		fn(&u)
		newRaw, err := json.Marshal(&u)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, 0)
		_, err = pipe.Exec(ctx)
		return err
	}
	for i := 0; i < 5; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("user update conflict: %s", uid)
}
