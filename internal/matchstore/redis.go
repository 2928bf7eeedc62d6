package matchstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/gproductions/cardsagainst/internal/carddeck"
	"github.com/gproductions/cardsagainst/internal/matchdoc"
)

// RedisStore keeps match documents as JSON under match:<name>, a joinable
// index set per language under match:lobby:<language>, and fans snapshots
// out over pub/sub on match:events:<name>.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

const updateRetries = 5

func matchKey(name string) string     { return "match:" + strings.TrimSpace(name) }
func lobbyKey(language string) string { return "match:lobby:" + strings.TrimSpace(language) }
func eventsKey(name string) string    { return "match:events:" + strings.TrimSpace(name) }

// wire envelope for the snapshot channel
type storeEvent struct {
	Kind  string          `json:"kind"` // "snapshot" or "deleted"
	Match json.RawMessage `json:"match,omitempty"`
}

func (s *RedisStore) Create(ctx context.Context, m *matchdoc.Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, matchKey(m.Name), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExists, m.Name)
	}
	if !m.Active {
		if err := s.rdb.SAdd(ctx, lobbyKey(m.Language), m.Name).Err(); err != nil {
			return err
		}
	}
	return s.publishSnapshot(ctx, m.Name, raw)
}

func (s *RedisStore) Get(ctx context.Context, name string) (*matchdoc.Match, error) {
	raw, err := s.rdb.Get(ctx, matchKey(name)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return decodeMatch(raw)
}

func (s *RedisStore) Set(ctx context.Context, m *matchdoc.Match) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, matchKey(m.Name), raw, 0)
	if m.Active {
		pipe.SRem(ctx, lobbyKey(m.Language), m.Name)
	} else {
		pipe.SAdd(ctx, lobbyKey(m.Language), m.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return s.publishSnapshot(ctx, m.Name, raw)
}

// Update runs a read-apply-write transaction under WATCH. Contention with a
// concurrent writer restarts the transaction; set-algebra operations are
// idempotent, so a restart re-applies cleanly.
func (s *RedisStore) Update(ctx context.Context, name string, fields Fields) error {
	key := matchKey(name)
	var newRaw []byte
	var updated *matchdoc.Match

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return err
		}
		m, err := decodeMatch(raw)
		if err != nil {
			return err
		}
		for k, v := range fields {
			if err := applyField(m, k, v); err != nil {
				return err
			}
		}
		newRaw, err = json.Marshal(m)
		if err != nil {
			return err
		}
		updated = m
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, newRaw, 0)
		if m.Active {
			pipe.SRem(ctx, lobbyKey(m.Language), m.Name)
		} else {
			pipe.SAdd(ctx, lobbyKey(m.Language), m.Name)
		}
		_, err = pipe.Exec(ctx)
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return s.publishSnapshot(ctx, updated.Name, newRaw)
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrConflict, name)
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	m, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, matchKey(name))
	pipe.SRem(ctx, lobbyKey(m.Language), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	ev, _ := json.Marshal(storeEvent{Kind: "deleted"})
	return s.rdb.Publish(ctx, eventsKey(name), ev).Err()
}

func (s *RedisStore) QueryJoinable(ctx context.Context, language string) ([]*matchdoc.Match, error) {
	names, err := s.rdb.SMembers(ctx, lobbyKey(language)).Result()
	if err != nil {
		return nil, err
	}
	var out []*matchdoc.Match
	for _, name := range names {
		m, err := s.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			// stale index entry from a deleted match
			_ = s.rdb.SRem(ctx, lobbyKey(language), name).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.Active {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, name string, l Listener) (Subscription, error) {
	ps := s.rdb.Subscribe(ctx, eventsKey(name))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	// deliver the current document before pushed snapshots
	m, err := s.Get(ctx, name)
	switch {
	case err == nil:
		if l.OnSnapshot != nil {
			l.OnSnapshot(m)
		}
	case errors.Is(err, ErrNotFound):
		if l.OnDeleted != nil {
			l.OnDeleted()
		}
	default:
		_ = ps.Close()
		return nil, err
	}

	go func() {
		for msg := range ps.Channel() {
			var ev storeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				if l.OnError != nil {
					l.OnError(err)
				}
				continue
			}
			if ev.Kind == "deleted" {
				if l.OnDeleted != nil {
					l.OnDeleted()
				}
				continue
			}
			snap, err := decodeMatch(ev.Match)
			if err != nil {
				if l.OnError != nil {
					l.OnError(err)
				}
				continue
			}
			if l.OnSnapshot != nil {
				l.OnSnapshot(snap)
			}
		}
	}()
	return &redisSub{ps: ps}, nil
}

type redisSub struct{ ps *redis.PubSub }

func (s *redisSub) Close() error { return s.ps.Close() }

func (s *RedisStore) publishSnapshot(ctx context.Context, name string, raw []byte) error {
	ev, err := json.Marshal(storeEvent{Kind: "snapshot", Match: raw})
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, eventsKey(name), ev).Err()
}

func decodeMatch(raw []byte) (*matchdoc.Match, error) {
	var m matchdoc.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m.EnsureMaps()
	return &m, nil
}

// applyField mutates one document field. Union and Remove only apply to the
// string-set fields; everything else is a plain replacement.
func applyField(m *matchdoc.Match, key string, val any) error {
	if uid, ok := strings.CutPrefix(key, "playersChoices."); ok {
		cards, ok := val.([]carddeck.Card)
		if !ok {
			return fmt.Errorf("field %s: unsupported value %T", key, val)
		}
		m.Choices[uid] = cards
		return nil
	}
	if uid, ok := strings.CutPrefix(key, "playersCards."); ok {
		cards, ok := val.([]carddeck.Card)
		if !ok {
			return fmt.Errorf("field %s: unsupported value %T", key, val)
		}
		m.Hands[uid] = cards
		return nil
	}

	switch key {
	case "active":
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("field active: unsupported value %T", val)
		}
		m.Active = b
	case "dealer":
		d, ok := val.(string)
		if !ok {
			return fmt.Errorf("field dealer: unsupported value %T", val)
		}
		m.Dealer = d
	case "winner":
		w, ok := val.(string)
		if !ok {
			return fmt.Errorf("field winner: unsupported value %T", val)
		}
		m.Winner = w
	case "round":
		n, ok := val.(int)
		if !ok {
			return fmt.Errorf("field round: unsupported value %T", val)
		}
		m.Round = n
	case "players":
		next, err := applySetOp(m.Players, val)
		if err != nil {
			return fmt.Errorf("field players: %w", err)
		}
		m.Players = next
	case "distributing":
		next, err := applySetOp(m.Distributing, val)
		if err != nil {
			return fmt.Errorf("field distributing: %w", err)
		}
		m.Distributing = next
	case "playersPoints":
		pts, ok := val.(map[string]int)
		if !ok {
			return fmt.Errorf("field playersPoints: unsupported value %T", val)
		}
		m.Points = pts
	case "playersCards":
		hands, ok := val.(map[string][]carddeck.Card)
		if !ok {
			return fmt.Errorf("field playersCards: unsupported value %T", val)
		}
		m.Hands = hands
	case "playersChoices":
		choices, ok := val.(map[string][]carddeck.Card)
		if !ok {
			return fmt.Errorf("field playersChoices: unsupported value %T", val)
		}
		m.Choices = choices
	case "blackCards":
		pool, ok := val.([]int)
		if !ok {
			return fmt.Errorf("field blackCards: unsupported value %T", val)
		}
		m.BlackPool = pool
	case "whiteCards":
		pool, ok := val.([]int)
		if !ok {
			return fmt.Errorf("field whiteCards: unsupported value %T", val)
		}
		m.WhitePool = pool
	default:
		return fmt.Errorf("unknown field %s", key)
	}
	return nil
}

func applySetOp(cur []string, val any) ([]string, error) {
	switch op := val.(type) {
	case unionOp:
		for _, v := range op.vals {
			found := false
			for _, c := range cur {
				if c == v {
					found = true
					break
				}
			}
			if !found {
				cur = append(cur, v)
			}
		}
		return cur, nil
	case removeOp:
		out := cur[:0]
		for _, c := range cur {
			drop := false
			for _, v := range op.vals {
				if c == v {
					drop = true
					break
				}
			}
			if !drop {
				out = append(out, c)
			}
		}
		return out, nil
	case []string:
		return op, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", val)
	}
}
