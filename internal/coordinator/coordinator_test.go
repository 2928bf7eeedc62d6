package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gproductions/cardsagainst/internal/carddeck"
	"github.com/gproductions/cardsagainst/internal/config"
	"github.com/gproductions/cardsagainst/internal/matchdoc"
	"github.com/gproductions/cardsagainst/internal/matchstore"
	"github.com/gproductions/cardsagainst/internal/userstore"
)

const waitFor = 3 * time.Second

type testEnv struct {
	store   *matchstore.RedisStore
	users   *userstore.Store
	catalog *carddeck.RedisCatalog
	rules   config.Rules
}

func newTestEnv(t *testing.T, blackCards, whiteCards int) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cat := carddeck.NewRedisCatalog(rdb)
	ctx := context.Background()
	black := make([]carddeck.Card, blackCards)
	for i := range black {
		black[i] = carddeck.Card{Text: fmt.Sprintf("prompt %d needs __.", i)}
	}
	white := make([]carddeck.Card, whiteCards)
	for i := range white {
		white[i] = carddeck.Card{Text: fmt.Sprintf("answer %d", i)}
	}
	if err := cat.Seed(ctx, "en", carddeck.Black, black); err != nil {
		t.Fatalf("seed black: %v", err)
	}
	if err := cat.Seed(ctx, "en", carddeck.White, white); err != nil {
		t.Fatalf("seed white: %v", err)
	}

	rules := config.DefaultRules()
	rules.CardsPerPlayer = 4
	return &testEnv{
		store:   matchstore.NewRedisStore(rdb),
		users:   userstore.New(rdb),
		catalog: cat,
		rules:   rules,
	}
}

// recordEvents funnels every notification into buffered channels so tests
// can wait for lifecycle progress without polling the store.
type recordEvents struct {
	players  chan *matchdoc.Match
	started  chan *matchdoc.Match
	dealt    chan *matchdoc.Match
	choices  chan *matchdoc.Match
	resolved chan *matchdoc.Match
	ended    chan float64
	gone     chan struct{}
	errs     chan error
}

func newRecordEvents() *recordEvents {
	return &recordEvents{
		players:  make(chan *matchdoc.Match, 32),
		started:  make(chan *matchdoc.Match, 8),
		dealt:    make(chan *matchdoc.Match, 8),
		choices:  make(chan *matchdoc.Match, 32),
		resolved: make(chan *matchdoc.Match, 8),
		ended:    make(chan float64, 4),
		gone:     make(chan struct{}, 4),
		errs:     make(chan error, 8),
	}
}

func (r *recordEvents) MatchCreated(*matchdoc.Match)            {}
func (r *recordEvents) MatchJoined(*matchdoc.Match)             {}
func (r *recordEvents) PlayersChanged(m *matchdoc.Match)        { r.players <- m }
func (r *recordEvents) MatchStarted(m *matchdoc.Match)          { r.started <- m }
func (r *recordEvents) DistributionDone(m *matchdoc.Match)      { r.dealt <- m }
func (r *recordEvents) ChoicesUpdated(m *matchdoc.Match)        { r.choices <- m }
func (r *recordEvents) RoundResolved(m *matchdoc.Match)         { r.resolved <- m }
func (r *recordEvents) GameEnded(_ *matchdoc.Match, rw float64) { r.ended <- rw }
func (r *recordEvents) MatchGone()                              { r.gone <- struct{}{} }
func (r *recordEvents) Error(err error)                         { r.errs <- err }

func (env *testEnv) newPlayer(t *testing.T, uid string, ev Events) *Coordinator {
	t.Helper()
	u := matchdoc.User{UID: uid, Nickname: "nick-" + uid}
	if err := env.users.Save(context.Background(), &u); err != nil {
		t.Fatalf("save user %s: %v", uid, err)
	}
	c := New(env.store, env.users, env.catalog, env.rules, u, ev)
	t.Cleanup(c.Close)
	return c
}

func waitMatch(t *testing.T, ch <-chan *matchdoc.Match, what string) *matchdoc.Match {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(waitFor):
		t.Fatalf("timeout waiting for %s", what)
		return nil
	}
}

func waitReward(t *testing.T, ch <-chan float64, what string) float64 {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatalf("timeout waiting for %s", what)
		return 0
	}
}

func TestMatchLifecycle(t *testing.T) {
	env := newTestEnv(t, 5, 30)
	ctx := context.Background()
	dEv, pEv := newRecordEvents(), newRecordEvents()
	d := env.newPlayer(t, "dealer", dEv)
	p := env.newPlayer(t, "player", pEv)

	if err := d.CreateMatch(ctx, "room1", "en", "", 2); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if err := d.WatchLobby(ctx); err != nil {
		t.Fatalf("WatchLobby: %v", err)
	}
	if err := p.JoinMatch(ctx, "room1", ""); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if err := p.WatchLobby(ctx); err != nil {
		t.Fatalf("WatchLobby: %v", err)
	}
	for {
		m := waitMatch(t, dEv.players, "second player in lobby")
		if len(m.Players) == 2 {
			break
		}
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitMatch(t, pEv.started, "start notification at player")

	// round 1: both signal, dealer distributes once the set covers
	if err := d.EnterDistributing(ctx); err != nil {
		t.Fatalf("dealer EnterDistributing: %v", err)
	}
	if err := p.EnterDistributing(ctx); err != nil {
		t.Fatalf("player EnterDistributing: %v", err)
	}
	waitMatch(t, dEv.dealt, "round 1 at dealer")
	waitMatch(t, pEv.dealt, "round 1 at player")

	m, err := env.store.Get(ctx, "room1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !m.Active || m.Round != 1 || m.Winner != "" || len(m.Distributing) != 0 {
		t.Fatalf("unexpected round 1 state: %+v", m)
	}
	if m.BlackCard.Text == "" {
		t.Fatal("no black card installed")
	}
	if len(m.Hands["dealer"]) != 4 || len(m.Hands["player"]) != 4 {
		t.Fatalf("hand sizes = %d/%d, want 4/4", len(m.Hands["dealer"]), len(m.Hands["player"]))
	}
	if m.Points["dealer"] != 0 || m.Points["player"] != 0 {
		t.Fatalf("points not zeroed: %v", m.Points)
	}

	// round 1 play: the one non-dealer submits, the dealer elects
	if err := p.WatchPlay(ctx); err != nil {
		t.Fatalf("WatchPlay: %v", err)
	}
	if err := p.SubmitChoice(ctx, []int{0}); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}
	final, err := d.ElectWinner(ctx, "player")
	if err != nil {
		t.Fatalf("ElectWinner: %v", err)
	}
	if final {
		t.Fatal("round 1 of 2 reported as final")
	}
	waitMatch(t, pEv.resolved, "round resolution at player")

	m, err = env.store.Get(ctx, "room1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Winner != "player" || m.Points["player"] != 1 {
		t.Fatalf("award not applied: winner=%q points=%v", m.Winner, m.Points)
	}
	if m.Dealer != "player" {
		t.Fatalf("dealer = %q, want rotation to player", m.Dealer)
	}

	// round 2 with swapped roles
	if err := d.EnterDistributing(ctx); err != nil {
		t.Fatalf("old dealer EnterDistributing: %v", err)
	}
	if err := p.EnterDistributing(ctx); err != nil {
		t.Fatalf("new dealer EnterDistributing: %v", err)
	}
	waitMatch(t, dEv.dealt, "round 2 at old dealer")
	m2 := waitMatch(t, pEv.dealt, "round 2 at new dealer")
	if m2.Round != 2 || m2.Winner != "" || len(m2.Choices) != 0 {
		t.Fatalf("round 2 not reset: %+v", m2)
	}
	if len(m2.Hands["player"]) != 4 {
		t.Fatalf("played card not refilled, hand = %d", len(m2.Hands["player"]))
	}

	if err := d.WatchPlay(ctx); err != nil {
		t.Fatalf("WatchPlay: %v", err)
	}
	if err := d.SubmitChoice(ctx, []int{1}); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}
	final, err = p.ElectWinner(ctx, "dealer")
	if err != nil {
		t.Fatalf("ElectWinner: %v", err)
	}
	if !final {
		t.Fatal("last round not reported as final")
	}
	waitMatch(t, dEv.resolved, "final resolution at old dealer")

	// final awarding: the current dealer lingers until alone, then deletes
	if _, err := d.FinishGame(ctx); err != nil {
		t.Fatalf("dealer FinishGame: %v", err)
	}
	reward, err := p.FinishGame(ctx)
	if err != nil {
		t.Fatalf("player FinishGame: %v", err)
	}
	if math.Abs(reward-0.5) > 1e-9 {
		t.Fatalf("tied reward = %v, want 0.5", reward)
	}
	if got := waitReward(t, dEv.ended, "game end at dealer"); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("dealer reward = %v, want 0.5", got)
	}
	waitReward(t, pEv.ended, "game end at player")

	if _, err := env.store.Get(ctx, "room1"); !errors.Is(err, matchstore.ErrNotFound) {
		t.Fatalf("match after finish = %v, want ErrNotFound", err)
	}
	u, err := env.users.Get(ctx, "dealer")
	if err != nil {
		t.Fatalf("users.Get: %v", err)
	}
	if math.Abs(u.Points-0.5) > 1e-9 || u.MatchName != "" {
		t.Fatalf("user record after finish: %+v", u)
	}
}

func TestJoinValidation(t *testing.T) {
	env := newTestEnv(t, 2, 10)
	env.rules.MaxPlayers = 2
	ctx := context.Background()
	d := env.newPlayer(t, "d", nil)
	p1 := env.newPlayer(t, "p1", nil)
	p2 := env.newPlayer(t, "p2", nil)

	if err := p1.JoinMatch(ctx, "ghost", ""); !errors.Is(err, matchstore.ErrNotFound) {
		t.Fatalf("join missing = %v, want ErrNotFound", err)
	}

	if err := d.CreateMatch(ctx, "room1", "en", "sesame", 1); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if err := p1.JoinMatch(ctx, "room1", "wrong"); !errors.Is(err, ErrBadPasskey) {
		t.Fatalf("wrong passkey = %v, want ErrBadPasskey", err)
	}
	if err := p1.JoinMatch(ctx, "room1", "sesame"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if err := p2.JoinMatch(ctx, "room1", "sesame"); !errors.Is(err, ErrMatchFull) {
		t.Fatalf("full join = %v, want ErrMatchFull", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p2.JoinMatch(ctx, "room1", "sesame"); !errors.Is(err, ErrMatchStarted) {
		t.Fatalf("late join = %v, want ErrMatchStarted", err)
	}
}

func TestListJoinable(t *testing.T) {
	env := newTestEnv(t, 2, 10)
	ctx := context.Background()
	d := env.newPlayer(t, "d", nil)
	p := env.newPlayer(t, "p", nil)

	if err := d.CreateMatch(ctx, "mine", "en", "", 1); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	got, err := p.ListJoinable(ctx, "en")
	if err != nil {
		t.Fatalf("ListJoinable: %v", err)
	}
	if len(got) != 1 || got[0].Name != "mine" {
		t.Fatalf("joinable for p = %+v", got)
	}
	// the dealer's own lobby is not offered back to it
	got, err = d.ListJoinable(ctx, "en")
	if err != nil {
		t.Fatalf("ListJoinable: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("joinable for d = %+v, want none", got)
	}
}

func TestStartValidation(t *testing.T) {
	env := newTestEnv(t, 2, 10)
	ctx := context.Background()
	d := env.newPlayer(t, "d", nil)
	p := env.newPlayer(t, "p", nil)

	if err := d.CreateMatch(ctx, "room1", "en", "", 1); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if err := d.Start(ctx); !errors.Is(err, ErrTooFewPlayers) {
		t.Fatalf("solo start = %v, want ErrTooFewPlayers", err)
	}
	if err := p.JoinMatch(ctx, "room1", ""); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if err := p.Start(ctx); !errors.Is(err, ErrNotDealer) {
		t.Fatalf("non-dealer start = %v, want ErrNotDealer", err)
	}
}

// setupRound drives a match of the given players through its first
// distribution so play-phase tests can start from a dealt table.
func setupRound(t *testing.T, env *testEnv, coords map[string]*Coordinator, dealer, name string) {
	t.Helper()
	ctx := context.Background()
	ev := newRecordEvents()
	coords[dealer] = env.newPlayer(t, dealer, ev)
	if err := coords[dealer].CreateMatch(ctx, name, "en", "", 1); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	for uid, c := range coords {
		if uid == dealer {
			continue
		}
		if err := c.JoinMatch(ctx, name, ""); err != nil {
			t.Fatalf("JoinMatch %s: %v", uid, err)
		}
	}
	if err := coords[dealer].Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := coords[dealer].EnterDistributing(ctx); err != nil {
		t.Fatalf("dealer EnterDistributing: %v", err)
	}
	for uid, c := range coords {
		if uid == dealer {
			continue
		}
		if err := c.EnterDistributing(ctx); err != nil {
			t.Fatalf("EnterDistributing %s: %v", uid, err)
		}
	}
	waitMatch(t, ev.dealt, "first distribution")
}

func TestElectWinnerValidation(t *testing.T) {
	env := newTestEnv(t, 2, 30)
	ctx := context.Background()
	coords := map[string]*Coordinator{
		"p1": env.newPlayer(t, "p1", nil),
		"p2": env.newPlayer(t, "p2", nil),
	}
	setupRound(t, env, coords, "d", "room1")
	d := coords["d"]

	if _, err := coords["p1"].ElectWinner(ctx, "p1"); !errors.Is(err, ErrNotDealer) {
		t.Fatalf("non-dealer elect = %v, want ErrNotDealer", err)
	}
	if _, err := d.ElectWinner(ctx, ""); !errors.Is(err, ErrNoWinnerPicked) {
		t.Fatalf("empty winner = %v, want ErrNoWinnerPicked", err)
	}

	if err := coords["p1"].SubmitChoice(ctx, []int{0}); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}
	// one submission short of players-1 must not resolve the round
	if _, err := d.ElectWinner(ctx, "p1"); !errors.Is(err, ErrChoicesPending) {
		t.Fatalf("early elect = %v, want ErrChoicesPending", err)
	}
	if err := coords["p2"].SubmitChoice(ctx, []int{0}); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}
	if _, err := d.ElectWinner(ctx, "nobody"); !errors.Is(err, ErrNoWinnerPicked) {
		t.Fatalf("unknown winner = %v, want ErrNoWinnerPicked", err)
	}
	if _, err := d.ElectWinner(ctx, "p1"); err != nil {
		t.Fatalf("ElectWinner: %v", err)
	}
}

func TestSubmitChoiceValidation(t *testing.T) {
	env := newTestEnv(t, 2, 30)
	ctx := context.Background()
	coords := map[string]*Coordinator{"p1": env.newPlayer(t, "p1", nil)}
	setupRound(t, env, coords, "d", "room1")
	p := coords["p1"]

	if err := coords["d"].SubmitChoice(ctx, []int{0}); err == nil {
		t.Fatal("dealer choice accepted")
	}
	if err := p.SubmitChoice(ctx, []int{0, 1}); !errors.Is(err, ErrIncompleteChoice) {
		t.Fatalf("wrong card count = %v, want ErrIncompleteChoice", err)
	}
	if err := p.SubmitChoice(ctx, []int{99}); !errors.Is(err, ErrIncompleteChoice) {
		t.Fatalf("out of range = %v, want ErrIncompleteChoice", err)
	}
	if err := p.SubmitChoice(ctx, []int{1}); err != nil {
		t.Fatalf("SubmitChoice: %v", err)
	}

	m, err := env.store.Get(ctx, "room1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(m.Choices["p1"]) != 1 {
		t.Fatalf("choice not recorded: %v", m.Choices)
	}
	if len(m.Hands["p1"]) != env.rules.CardsPerPlayer-1 {
		t.Fatalf("hand after choice = %d, want %d", len(m.Hands["p1"]), env.rules.CardsPerPlayer-1)
	}
}

func TestDistributionDealsDistinctCards(t *testing.T) {
	env := newTestEnv(t, 2, 40)
	ctx := context.Background()
	coords := map[string]*Coordinator{
		"p1": env.newPlayer(t, "p1", nil),
		"p2": env.newPlayer(t, "p2", nil),
		"p3": env.newPlayer(t, "p3", nil),
	}
	setupRound(t, env, coords, "d", "room1")

	m, err := env.store.Get(ctx, "room1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	seen := map[string]string{}
	for uid, hand := range m.Hands {
		if len(hand) != env.rules.CardsPerPlayer {
			t.Fatalf("hand of %s = %d cards, want %d", uid, len(hand), env.rules.CardsPerPlayer)
		}
		for _, card := range hand {
			if holder, dup := seen[card.Text]; dup {
				t.Fatalf("card %q dealt to both %s and %s", card.Text, holder, uid)
			}
			seen[card.Text] = uid
		}
	}
	if len(m.WhitePool) != 40-4*len(m.Hands) {
		t.Fatalf("white pool = %d left, want %d", len(m.WhitePool), 40-4*len(m.Hands))
	}
}

func TestDistributionReshufflesExhaustedPool(t *testing.T) {
	env := newTestEnv(t, 2, 12)
	env.rules.CardsPerPlayer = 10
	ctx := context.Background()
	ev := newRecordEvents()
	d := env.newPlayer(t, "d", ev)

	if err := d.CreateMatch(ctx, "room1", "en", "", 3); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	// sole player covers immediately, so the pass runs synchronously
	if err := d.EnterDistributing(ctx); err != nil {
		t.Fatalf("EnterDistributing: %v", err)
	}
	waitMatch(t, ev.dealt, "round 1")

	m, err := env.store.Get(ctx, "room1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(m.Hands["d"]) != 10 || len(m.WhitePool) != 2 {
		t.Fatalf("round 1 hand/pool = %d/%d, want 10/2", len(m.Hands["d"]), len(m.WhitePool))
	}

	// shrink the hand so the next pass needs more than the pool holds
	if err := env.store.Update(ctx, "room1", matchstore.Fields{
		"playersCards.d": []carddeck.Card{{Text: "answer 0"}},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := d.EnterDistributing(ctx); err != nil {
		t.Fatalf("EnterDistributing: %v", err)
	}
	waitMatch(t, ev.dealt, "round 2 after reshuffle")

	m, err = env.store.Get(ctx, "room1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Round != 2 || len(m.Hands["d"]) != 10 {
		t.Fatalf("round 2 hand = %d at round %d, want 10 at 2", len(m.Hands["d"]), m.Round)
	}
	if len(m.WhitePool) != 3 {
		t.Fatalf("white pool after reshuffle = %d, want 3", len(m.WhitePool))
	}
}

func TestDistributionPoolExhausted(t *testing.T) {
	env := newTestEnv(t, 2, 5)
	env.rules.CardsPerPlayer = 10
	ctx := context.Background()
	d := env.newPlayer(t, "d", nil)

	if err := d.CreateMatch(ctx, "room1", "en", "", 1); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	// even a fresh reshuffle cannot fill one hand from five cards
	if err := d.EnterDistributing(ctx); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("EnterDistributing = %v, want ErrPoolExhausted", err)
	}
	m, err := env.store.Get(ctx, "room1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.Round != 0 || len(m.Hands["d"]) != 0 {
		t.Fatalf("aborted pass persisted: round=%d hand=%d", m.Round, len(m.Hands["d"]))
	}
}

func TestLeavePolicy(t *testing.T) {
	env := newTestEnv(t, 2, 40)
	ctx := context.Background()

	t.Run("lobby player leaves", func(t *testing.T) {
		d := env.newPlayer(t, "d1", nil)
		p := env.newPlayer(t, "pl1", nil)
		if err := d.CreateMatch(ctx, "lobby1", "en", "", 1); err != nil {
			t.Fatalf("CreateMatch: %v", err)
		}
		if err := p.JoinMatch(ctx, "lobby1", ""); err != nil {
			t.Fatalf("JoinMatch: %v", err)
		}
		if err := p.Leave(ctx); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		m, err := env.store.Get(ctx, "lobby1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(m.Players) != 1 || m.Players[0] != "d1" {
			t.Fatalf("players after leave = %v", m.Players)
		}
		u, err := env.users.Get(ctx, "pl1")
		if err != nil || u.MatchName != "" {
			t.Fatalf("user match not cleared: %+v, %v", u, err)
		}
	})

	t.Run("lobby dealer leaves", func(t *testing.T) {
		d := env.newPlayer(t, "d2", nil)
		p := env.newPlayer(t, "pl2", nil)
		if err := d.CreateMatch(ctx, "lobby2", "en", "", 1); err != nil {
			t.Fatalf("CreateMatch: %v", err)
		}
		if err := p.JoinMatch(ctx, "lobby2", ""); err != nil {
			t.Fatalf("JoinMatch: %v", err)
		}
		if err := d.Leave(ctx); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if _, err := env.store.Get(ctx, "lobby2"); !errors.Is(err, matchstore.ErrNotFound) {
			t.Fatalf("lobby without dealer = %v, want ErrNotFound", err)
		}
	})

	t.Run("active match below minimum", func(t *testing.T) {
		coords := map[string]*Coordinator{"pl3": env.newPlayer(t, "pl3", nil)}
		setupRound(t, env, coords, "d3", "active3")
		if err := coords["pl3"].Leave(ctx); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if _, err := env.store.Get(ctx, "active3"); !errors.Is(err, matchstore.ErrNotFound) {
			t.Fatalf("underpopulated match = %v, want ErrNotFound", err)
		}
	})

	t.Run("active dealer hands off", func(t *testing.T) {
		coords := map[string]*Coordinator{
			"pl4": env.newPlayer(t, "pl4", nil),
			"pl5": env.newPlayer(t, "pl5", nil),
		}
		setupRound(t, env, coords, "d4", "active4")
		if err := coords["d4"].Leave(ctx); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		m, err := env.store.Get(ctx, "active4")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(m.Players) != 2 || m.HasPlayer("d4") {
			t.Fatalf("players after dealer leave = %v", m.Players)
		}
		if m.Dealer == "d4" || !m.HasPlayer(m.Dealer) {
			t.Fatalf("dealer not handed off: %q of %v", m.Dealer, m.Players)
		}
	})
}

func TestResume(t *testing.T) {
	env := newTestEnv(t, 2, 10)
	ctx := context.Background()
	d := env.newPlayer(t, "d", nil)
	if err := d.CreateMatch(ctx, "room1", "en", "", 1); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	// a fresh session for the same user lands back in the match
	again := New(env.store, env.users, env.catalog, env.rules, matchdoc.User{UID: "d"}, nil)
	t.Cleanup(again.Close)
	m, err := again.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if m == nil || m.Name != "room1" {
		t.Fatalf("resumed match = %+v, want room1", m)
	}

	// a dangling reference to a deleted match clears silently
	if err := env.store.Delete(ctx, "room1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := env.users.SetMatch(ctx, "d", "room1"); err != nil {
		t.Fatalf("SetMatch: %v", err)
	}
	m, err = again.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume after delete: %v", err)
	}
	if m != nil {
		t.Fatalf("resumed deleted match: %+v", m)
	}
	u, err := env.users.Get(ctx, "d")
	if err != nil || u.MatchName != "" {
		t.Fatalf("dangling reference not cleared: %+v, %v", u, err)
	}
}

func TestMatchGoneNotification(t *testing.T) {
	env := newTestEnv(t, 2, 10)
	ctx := context.Background()
	d := env.newPlayer(t, "d", nil)
	ev := newRecordEvents()
	p := env.newPlayer(t, "p", ev)

	if err := d.CreateMatch(ctx, "room1", "en", "", 1); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if err := p.JoinMatch(ctx, "room1", ""); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if err := p.WatchLobby(ctx); err != nil {
		t.Fatalf("WatchLobby: %v", err)
	}
	if err := d.Leave(ctx); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	select {
	case <-ev.gone:
	case <-time.After(waitFor):
		t.Fatal("no gone notification after dealer left the lobby")
	}
	u, err := env.users.Get(ctx, "p")
	if err != nil || u.MatchName != "" {
		t.Fatalf("user match not cleared: %+v, %v", u, err)
	}
}
