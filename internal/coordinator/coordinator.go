// Package coordinator drives the match lifecycle: creating and joining the
// shared match document, the lobby, card distribution, play, awarding and
// teardown. One Coordinator represents one local user; every other
// participant is just another writer of the same document, observed through
// store snapshots. Multi-writer fields are only touched with set-algebra
// updates so that independent clients never clobber each other; whole
// document overwrites are reserved for the dealer's phase transitions.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gproductions/cardsagainst/internal/carddeck"
	"github.com/gproductions/cardsagainst/internal/config"
	"github.com/gproductions/cardsagainst/internal/history"
	"github.com/gproductions/cardsagainst/internal/matchdoc"
	"github.com/gproductions/cardsagainst/internal/matchstore"
	"github.com/gproductions/cardsagainst/internal/obslog"
	"github.com/gproductions/cardsagainst/internal/scoring"
	"github.com/gproductions/cardsagainst/internal/userstore"
)

var (
	ErrNoMatch          = errors.New("not in a match")
	ErrNotDealer        = errors.New("only the dealer may do this")
	ErrMatchStarted     = errors.New("match already started")
	ErrMatchFull        = errors.New("match is full")
	ErrBadPasskey       = errors.New("wrong passkey")
	ErrTooFewPlayers    = errors.New("not enough players to start")
	ErrIncompleteChoice = errors.New("choice does not fill the black card")
	ErrChoicesPending   = errors.New("not every player has submitted a choice")
	ErrNoWinnerPicked   = errors.New("no winning choice selected")
	ErrPoolExhausted    = errors.New("card pool exhausted")
)

type Coordinator struct {
	store   matchstore.Store
	users   *userstore.Store
	catalog carddeck.Catalog
	supply  *carddeck.Supply
	rules   config.Rules
	events  Events
	archive *history.Repository

	mu          sync.Mutex
	user        matchdoc.User
	match       *matchdoc.Match
	sub         matchstore.Subscription
	winnerWatch bool
	blackChosen bool
}

func New(store matchstore.Store, users *userstore.Store, catalog carddeck.Catalog, rules config.Rules, user matchdoc.User, events Events) *Coordinator {
	if events == nil {
		events = NopEvents{}
	}
	return &Coordinator{
		store:   store,
		users:   users,
		catalog: catalog,
		supply:  carddeck.NewSupply(catalog),
		rules:   rules,
		events:  events,
		user:    user,
	}
}

// AttachArchive wires the optional Postgres result archive.
func (c *Coordinator) AttachArchive(r *history.Repository) {
	if c != nil {
		c.archive = r
	}
}

// User returns a copy of the local user record.
func (c *Coordinator) User() matchdoc.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Match returns the last observed match document, or nil.
func (c *Coordinator) Match() *matchdoc.Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.match
}

// Close drops the active subscription. In-flight writes are not cancelled;
// only the reaction to future snapshots stops.
func (c *Coordinator) Close() {
	c.unsubscribe()
}

// CreateMatch creates the shared document with the local user as dealer and
// sole player, already signalled for the first distribution.
func (c *Coordinator) CreateMatch(ctx context.Context, name, language, passkey string, rounds int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("match name required")
	}
	if rounds < c.rules.MinRounds {
		rounds = c.rules.MinRounds
	}
	if rounds > c.rules.MaxRounds {
		rounds = c.rules.MaxRounds
	}
	if cur := c.User().MatchName; cur != "" && cur != name {
		if err := c.Leave(ctx); err != nil {
			return err
		}
	}

	uid := c.User().UID
	m := &matchdoc.Match{
		Name:         name,
		Language:     language,
		Passkey:      passkey,
		Active:       false,
		Dealer:       uid,
		Rounds:       rounds,
		Players:      []string{uid},
		Distributing: []string{uid},
		Points:       map[string]int{},
		Hands:        map[string][]carddeck.Card{},
		Choices:      map[string][]carddeck.Card{},
	}
	if err := c.store.Create(ctx, m); err != nil {
		return err
	}
	if err := c.users.SetMatch(ctx, uid, name); err != nil {
		return err
	}
	c.setUserMatch(name)
	c.setMatch(m)
	obslog.L().Info("match_create",
		zap.String("match", name),
		zap.String("language", language),
		zap.String("dealer", uid),
		zap.Int("rounds", rounds),
	)
	c.events.MatchCreated(m)
	return nil
}

// ListJoinable returns lobby matches of a language the local user could
// join: not started, not full, not its own.
func (c *Coordinator) ListJoinable(ctx context.Context, language string) ([]*matchdoc.Match, error) {
	all, err := c.store.QueryJoinable(ctx, language)
	if err != nil {
		return nil, err
	}
	uid := c.User().UID
	var out []*matchdoc.Match
	for _, m := range all {
		if len(m.Players) >= c.rules.MaxPlayers {
			continue
		}
		if m.Dealer == uid {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// JoinMatch appends the local user to a lobby match. The append is a
// set-union, so a duplicate join or a concurrent join of another player
// cannot corrupt the player list.
func (c *Coordinator) JoinMatch(ctx context.Context, name, passkey string) error {
	m, err := c.store.Get(ctx, name)
	if err != nil {
		return err
	}
	if m.Active {
		return fmt.Errorf("%w: %s", ErrMatchStarted, name)
	}
	if m.Passkey != passkey {
		return ErrBadPasskey
	}
	if len(m.Players) >= c.rules.MaxPlayers {
		return fmt.Errorf("%w: %s", ErrMatchFull, name)
	}
	if cur := c.User().MatchName; cur != "" && cur != name {
		if err := c.Leave(ctx); err != nil {
			return err
		}
	}

	uid := c.User().UID
	if err := c.store.Update(ctx, name, matchstore.Fields{"players": matchstore.Union(uid)}); err != nil {
		return err
	}
	if err := c.users.SetMatch(ctx, uid, name); err != nil {
		return err
	}
	c.setUserMatch(name)
	c.setMatch(m)
	obslog.L().Info("match_join", zap.String("match", name), zap.String("player", uid))
	c.events.MatchJoined(m)
	return nil
}

// WatchLobby subscribes to the lobby phase. Player counts stream through
// PlayersChanged; a non-dealer observing the activation transition gets
// MatchStarted and the feed stops.
func (c *Coordinator) WatchLobby(ctx context.Context) error {
	name := c.User().MatchName
	if name == "" {
		return ErrNoMatch
	}
	uid := c.User().UID
	var once sync.Once
	h := &watchHandle{}
	sub, err := c.store.Subscribe(ctx, name, matchstore.Listener{
		OnSnapshot: func(m *matchdoc.Match) {
			c.setMatch(m)
			c.events.PlayersChanged(m)
			if m.Active && m.Dealer != uid {
				once.Do(func() {
					h.stop()
					c.events.MatchStarted(m)
				})
			}
		},
		OnDeleted: func() { c.handleGone(ctx) },
		OnError:   func(err error) { c.events.Error(err) },
	})
	if err != nil {
		return err
	}
	if h.adopt(sub) {
		c.setSub(sub)
	}
	return nil
}

// Start activates the match. Dealer only, and only with enough players:
// scores and hands are initialised for every player present at activation.
func (c *Coordinator) Start(ctx context.Context) error {
	name := c.User().MatchName
	if name == "" {
		return ErrNoMatch
	}
	m, err := c.store.Get(ctx, name)
	if err != nil {
		return err
	}
	uid := c.User().UID
	if m.Dealer != uid {
		return ErrNotDealer
	}
	if len(m.Players) < c.rules.MinPlayers {
		return fmt.Errorf("%w: have %d, need %d", ErrTooFewPlayers, len(m.Players), c.rules.MinPlayers)
	}

	points := make(map[string]int, len(m.Players))
	hands := make(map[string][]carddeck.Card, len(m.Players))
	for _, p := range m.Players {
		points[p] = 0
		hands[p] = []carddeck.Card{}
	}
	err = c.store.Update(ctx, name, matchstore.Fields{
		"active":        true,
		"playersPoints": points,
		"playersCards":  hands,
	})
	if err != nil {
		return err
	}
	c.unsubscribe()
	m, err = c.store.Get(ctx, name)
	if err != nil {
		return err
	}
	c.setMatch(m)
	obslog.L().Info("match_start", zap.String("match", name), zap.Int("players", len(m.Players)))
	c.events.MatchStarted(m)
	return nil
}

// EnterDistributing signals readiness for the next round. The dealer runs
// the distribution pass once the distributing set covers all players;
// everyone else waits for the set to empty, then refetches the dealt match.
func (c *Coordinator) EnterDistributing(ctx context.Context) error {
	name := c.User().MatchName
	if name == "" {
		return ErrNoMatch
	}
	m, err := c.store.Get(ctx, name)
	if err != nil {
		return err
	}
	c.setMatch(m)
	c.setBlackChosen(false)
	uid := c.User().UID

	if m.Dealer == uid {
		if m.DistributingCovers() {
			return c.distribute(ctx, m)
		}
		if err := c.store.Update(ctx, name, matchstore.Fields{"distributing": matchstore.Union(uid)}); err != nil {
			return err
		}
		return c.watchDistributing(ctx, name, true)
	}

	if err := c.store.Update(ctx, name, matchstore.Fields{"distributing": matchstore.Union(uid)}); err != nil {
		return err
	}
	return c.watchDistributing(ctx, name, false)
}

func (c *Coordinator) watchDistributing(ctx context.Context, name string, dealer bool) error {
	var once sync.Once
	h := &watchHandle{}
	sub, err := c.store.Subscribe(ctx, name, matchstore.Listener{
		OnSnapshot: func(m *matchdoc.Match) {
			c.setMatch(m)
			if dealer {
				if !m.DistributingCovers() {
					return
				}
				once.Do(func() {
					h.stop()
					if err := c.distribute(ctx, m); err != nil {
						obslog.L().Error("distribute_error", zap.String("match", name), zap.Error(err))
						c.events.Error(err)
					}
				})
				return
			}
			if len(m.Distributing) != 0 {
				return
			}
			once.Do(func() {
				h.stop()
				fresh, err := c.store.Get(ctx, name)
				if err != nil {
					c.events.Error(err)
					return
				}
				c.setMatch(fresh)
				c.events.DistributionDone(fresh)
			})
		},
		OnDeleted: func() { c.handleGone(ctx) },
		OnError:   func(err error) { c.events.Error(err) },
	})
	if err != nil {
		return err
	}
	if h.adopt(sub) {
		c.setSub(sub)
	}
	return nil
}

// WatchPlay subscribes to the playing phase. Choice submissions stream
// through ChoicesUpdated; once the winner watch is armed, a decided winner
// fires RoundResolved exactly once.
func (c *Coordinator) WatchPlay(ctx context.Context) error {
	name := c.User().MatchName
	if name == "" {
		return ErrNoMatch
	}
	sub, err := c.store.Subscribe(ctx, name, matchstore.Listener{
		OnSnapshot: func(m *matchdoc.Match) {
			c.setMatch(m)
			c.events.ChoicesUpdated(m)
			if m.Winner != "" && c.disarmWinnerWatch() {
				c.events.RoundResolved(m)
			}
		},
		OnDeleted: func() { c.handleGone(ctx) },
		OnError:   func(err error) { c.events.Error(err) },
	})
	if err != nil {
		return err
	}
	c.setSub(sub)
	return nil
}

// SubmitChoice submits the local player's answer as hand positions, in gap
// order. The picked cards leave the hand and land in the player's own
// choice sub-key; both writes travel in one field update.
func (c *Coordinator) SubmitChoice(ctx context.Context, picks []int) error {
	name := c.User().MatchName
	if name == "" {
		return ErrNoMatch
	}
	m, err := c.store.Get(ctx, name)
	if err != nil {
		return err
	}
	uid := c.User().UID
	if m.Dealer == uid {
		return fmt.Errorf("dealer does not submit a choice")
	}

	hand := m.Hands[uid]
	gaps := matchdoc.Gaps(m.BlackCard.Text)
	if len(picks) != gaps {
		return fmt.Errorf("%w: need %d cards, got %d", ErrIncompleteChoice, gaps, len(picks))
	}

	chosen := make([]carddeck.Card, 0, len(picks))
	taken := make(map[int]bool, len(picks))
	for _, i := range picks {
		if i < 0 || i >= len(hand) || taken[i] {
			return fmt.Errorf("%w: bad hand position %d", ErrIncompleteChoice, i)
		}
		taken[i] = true
		chosen = append(chosen, hand[i])
	}
	remaining := make([]carddeck.Card, 0, len(hand)-len(picks))
	for i, card := range hand {
		if !taken[i] {
			remaining = append(remaining, card)
		}
	}

	err = c.store.Update(ctx, name, matchstore.Fields{
		"playersChoices." + uid: chosen,
		"playersCards." + uid:   remaining,
	})
	if err != nil {
		return err
	}
	c.armWinnerWatch()
	obslog.L().Info("choice_submit", zap.String("match", name), zap.String("player", uid), zap.Int("cards", len(chosen)))
	return nil
}

// ElectWinner records the dealer's pick, awards the point, rotates the
// dealer to its successor and re-enters distribution in one single-writer
// overwrite. It reports whether the final round has been played.
func (c *Coordinator) ElectWinner(ctx context.Context, winner string) (final bool, err error) {
	name := c.User().MatchName
	if name == "" {
		return false, ErrNoMatch
	}
	m, err := c.store.Get(ctx, name)
	if err != nil {
		return false, err
	}
	uid := c.User().UID
	if m.Dealer != uid {
		return false, ErrNotDealer
	}
	if winner == "" {
		return false, ErrNoWinnerPicked
	}
	if _, ok := m.Choices[winner]; !ok {
		return false, fmt.Errorf("%w: %s has no submitted choice", ErrNoWinnerPicked, winner)
	}
	if !m.ChoicesComplete() {
		return false, fmt.Errorf("%w: %d of %d", ErrChoicesPending, len(m.Choices), len(m.Players)-1)
	}

	m.Winner = winner
	scoring.AwardRound(m.Points, winner)
	m.Dealer = m.DealerSuccessor()
	found := false
	for _, d := range m.Distributing {
		if d == uid {
			found = true
			break
		}
	}
	if !found {
		m.Distributing = append(m.Distributing, uid)
	}
	if err := c.store.Set(ctx, m); err != nil {
		return false, err
	}
	c.setMatch(m)
	obslog.L().Info("round_resolve",
		zap.String("match", name),
		zap.String("winner", winner),
		zap.String("next_dealer", m.Dealer),
		zap.Int("round", m.Round),
	)
	c.events.RoundResolved(m)
	return m.Round >= m.Rounds, nil
}

// FinishGame runs the final awarding for the local user: compute the reward
// share, fold it into the user record, archive the standing, and either
// retire from the player set or, as dealer, linger until alone and delete
// the match. Returns the reward share.
func (c *Coordinator) FinishGame(ctx context.Context) (float64, error) {
	name := c.User().MatchName
	if name == "" {
		return 0, ErrNoMatch
	}
	m, err := c.store.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	uid := c.User().UID
	reward := scoring.FinalReward(m.Points, uid)

	u, err := c.users.ApplyReward(ctx, uid, reward)
	if err != nil {
		return 0, err
	}
	c.setUser(*u)

	if c.archive != nil {
		if err := c.archive.SaveResult(ctx, m, uid, reward); err != nil {
			obslog.L().Error("archive_error", zap.String("match", name), zap.String("player", uid), zap.Error(err))
		}
	}

	obslog.L().Info("game_end",
		zap.String("match", name),
		zap.String("player", uid),
		zap.Float64("reward", reward),
		zap.Int("score", m.Points[uid]),
	)

	if m.Dealer == uid {
		var once sync.Once
		h := &watchHandle{}
		sub, err := c.store.Subscribe(ctx, name, matchstore.Listener{
			OnSnapshot: func(snap *matchdoc.Match) {
				if len(snap.Players) != 1 {
					return
				}
				once.Do(func() {
					h.stop()
					if err := c.store.Delete(ctx, name); err != nil {
						obslog.L().Error("match_delete_error", zap.String("match", name), zap.Error(err))
					}
					c.clearMatch()
					c.events.GameEnded(snap, reward)
				})
			},
			OnDeleted: func() {
				once.Do(func() {
					h.stop()
					c.clearMatch()
					c.events.GameEnded(m, reward)
				})
			},
			OnError: func(err error) { c.events.Error(err) },
		})
		if err != nil {
			return reward, err
		}
		if h.adopt(sub) {
			c.setSub(sub)
		}
		return reward, nil
	}

	if err := c.store.Update(ctx, name, matchstore.Fields{"players": matchstore.Remove(uid)}); err != nil {
		return reward, err
	}
	c.clearMatch()
	c.events.GameEnded(m, reward)
	return reward, nil
}

// Leave retires the local user from its match. The match is deleted outright
// when it could not continue without this user: an active match dropping
// below the minimum, or an inactive match losing its dealer. Otherwise the
// departure is a set removal, with a dealer handoff first when needed.
func (c *Coordinator) Leave(ctx context.Context) error {
	name := c.User().MatchName
	if name == "" {
		return nil
	}
	c.unsubscribe()
	uid := c.User().UID

	m, err := c.store.Get(ctx, name)
	if errors.Is(err, matchstore.ErrNotFound) {
		return c.clearUserMatch(ctx)
	}
	if err != nil {
		return err
	}

	remaining := len(m.Players) - 1
	if (m.Active && remaining < c.rules.MinPlayers) || (!m.Active && m.Dealer == uid) {
		if err := c.store.Delete(ctx, name); err != nil && !errors.Is(err, matchstore.ErrNotFound) {
			return err
		}
		obslog.L().Info("match_delete", zap.String("match", name), zap.String("by", uid))
		return c.clearUserMatch(ctx)
	}

	if m.Dealer == uid {
		if err := c.store.Update(ctx, name, matchstore.Fields{"dealer": m.DealerSuccessor()}); err != nil {
			return err
		}
	}
	if err := c.store.Update(ctx, name, matchstore.Fields{"players": matchstore.Remove(uid)}); err != nil {
		return err
	}
	obslog.L().Info("match_leave", zap.String("match", name), zap.String("player", uid))
	return c.clearUserMatch(ctx)
}

// Resume reloads the user record and, when it still points at a live match,
// returns that match so the UI can route to the right phase. A dangling
// reference to a deleted match is cleared silently.
func (c *Coordinator) Resume(ctx context.Context) (*matchdoc.Match, error) {
	u, err := c.users.Get(ctx, c.User().UID)
	if err != nil {
		return nil, err
	}
	c.setUser(*u)
	if u.MatchName == "" {
		return nil, nil
	}
	m, err := c.store.Get(ctx, u.MatchName)
	if errors.Is(err, matchstore.ErrNotFound) {
		return nil, c.clearUserMatch(ctx)
	}
	if err != nil {
		return nil, err
	}
	c.setMatch(m)
	return m, nil
}

// handleGone reacts to a deleted-match notification: a normal transition,
// not a fault. The user's match reference is cleared.
func (c *Coordinator) handleGone(ctx context.Context) {
	c.unsubscribe()
	if err := c.clearUserMatch(ctx); err != nil {
		c.events.Error(err)
		return
	}
	c.events.MatchGone()
}

func (c *Coordinator) clearUserMatch(ctx context.Context) error {
	uid := c.User().UID
	if err := c.users.SetMatch(ctx, uid, ""); err != nil && !errors.Is(err, userstore.ErrNotFound) {
		return err
	}
	c.setUserMatch("")
	c.clearMatch()
	return nil
}

// watchHandle lets a listener stop its own subscription even when the
// trigger fires on the initial synchronous snapshot, before Subscribe has
// returned the handle to the caller.
type watchHandle struct {
	mu    sync.Mutex
	sub   matchstore.Subscription
	fired bool
}

func (h *watchHandle) stop() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	h.fired = true
	h.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// adopt stores the subscription, or closes it when the trigger already
// fired. Reports whether the watch is still live.
func (h *watchHandle) adopt(sub matchstore.Subscription) bool {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		_ = sub.Close()
		return false
	}
	h.sub = sub
	h.mu.Unlock()
	return true
}

// locked state helpers

func (c *Coordinator) setMatch(m *matchdoc.Match) {
	c.mu.Lock()
	c.match = m
	c.mu.Unlock()
}

func (c *Coordinator) clearMatch() {
	c.mu.Lock()
	c.match = nil
	c.mu.Unlock()
}

func (c *Coordinator) setUser(u matchdoc.User) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

func (c *Coordinator) setUserMatch(name string) {
	c.mu.Lock()
	c.user.MatchName = name
	c.mu.Unlock()
}

func (c *Coordinator) setSub(sub matchstore.Subscription) {
	c.mu.Lock()
	prev := c.sub
	c.sub = sub
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

func (c *Coordinator) unsubscribe() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

func (c *Coordinator) armWinnerWatch() {
	c.mu.Lock()
	c.winnerWatch = true
	c.mu.Unlock()
}

// disarmWinnerWatch reports whether the watch was armed, and disarms it.
func (c *Coordinator) disarmWinnerWatch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.winnerWatch
	c.winnerWatch = false
	return was
}

func (c *Coordinator) setBlackChosen(v bool) {
	c.mu.Lock()
	c.blackChosen = v
	c.mu.Unlock()
}

func (c *Coordinator) blackIsChosen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blackChosen
}
