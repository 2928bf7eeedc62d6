package coordinator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/gproductions/cardsagainst/internal/carddeck"
	"github.com/gproductions/cardsagainst/internal/matchdoc"
	"github.com/gproductions/cardsagainst/internal/matchstore"
	"github.com/gproductions/cardsagainst/internal/obslog"
)

// distribute runs the dealer's distribution pass once all players have
// signalled readiness. The black card is drawn first, then every player's
// hand is topped up concurrently from the shared white pool. A pass that
// runs the pool dry writes nothing: both pools are reshuffled and the pass
// restarts against the unchanged hands. Only a fully dealt round is
// persisted, in one document overwrite that also opens the playing phase.
func (c *Coordinator) distribute(ctx context.Context, m *matchdoc.Match) error {
	return c.distributePass(ctx, m, false)
}

func (c *Coordinator) distributePass(ctx context.Context, m *matchdoc.Match, reshuffled bool) error {
	m.EnsureMaps()

	if !c.blackIsChosen() {
		if len(m.BlackPool) == 0 {
			return c.reshuffle(ctx, m, reshuffled)
		}
		idx := m.BlackPool[0]
		card, err := c.catalog.Get(ctx, m.Language, carddeck.Black, idx)
		if err != nil {
			return err
		}
		m.BlackPool = m.BlackPool[1:]
		m.BlackCard = card
		c.setBlackChosen(true)
	}

	// Each worker pops its indexes under the pool lock and fetches the
	// card texts outside it, so the draws are disjoint but the catalog
	// round trips overlap. Dealt cards stay local until the whole pass
	// has succeeded.
	var (
		poolMu    sync.Mutex
		wg        sync.WaitGroup
		errMu     sync.Mutex
		passErr   error
		exhausted bool
		dealt     = make(map[string][]carddeck.Card, len(m.Players))
	)
	fail := func(err error) {
		errMu.Lock()
		if errors.Is(err, ErrPoolExhausted) {
			exhausted = true
		} else if passErr == nil {
			passErr = err
		}
		errMu.Unlock()
	}

	for _, player := range m.Players {
		needed := c.rules.CardsPerPlayer - len(m.Hands[player])
		if needed <= 0 {
			continue
		}
		wg.Add(1)
		go func(player string, needed int) {
			defer wg.Done()
			cards := make([]carddeck.Card, 0, needed)
			for i := 0; i < needed; i++ {
				poolMu.Lock()
				if len(m.WhitePool) == 0 {
					poolMu.Unlock()
					fail(ErrPoolExhausted)
					return
				}
				idx := m.WhitePool[0]
				m.WhitePool = m.WhitePool[1:]
				poolMu.Unlock()

				card, err := c.catalog.Get(ctx, m.Language, carddeck.White, idx)
				if err != nil {
					fail(err)
					return
				}
				cards = append(cards, card)
			}
			errMu.Lock()
			dealt[player] = cards
			errMu.Unlock()
		}(player, needed)
	}
	wg.Wait()

	if passErr != nil {
		return passErr
	}
	if exhausted {
		return c.reshuffle(ctx, m, reshuffled)
	}

	for player, cards := range dealt {
		m.Hands[player] = append(m.Hands[player], cards...)
	}

	m.Winner = ""
	m.Choices = map[string][]carddeck.Card{}
	m.Round++
	m.Distributing = nil
	if err := c.store.Set(ctx, m); err != nil {
		return err
	}
	c.setMatch(m)
	c.setBlackChosen(false)
	obslog.L().Info("distribution_done",
		zap.String("match", m.Name),
		zap.Int("round", m.Round),
		zap.Int("white_left", len(m.WhitePool)),
		zap.Int("black_left", len(m.BlackPool)),
	)
	c.events.DistributionDone(m)
	return nil
}

// reshuffle rebuilds both pools together and retries the pass once. A second
// exhaustion in the same distribution means the catalog itself cannot cover
// the table, which no amount of shuffling fixes.
func (c *Coordinator) reshuffle(ctx context.Context, m *matchdoc.Match, already bool) error {
	if already {
		return ErrPoolExhausted
	}
	black, white, err := c.supply.Refresh(ctx, m.Language)
	if err != nil {
		return err
	}
	err = c.store.Update(ctx, m.Name, matchstore.Fields{
		"blackCards": black,
		"whiteCards": white,
	})
	if err != nil {
		return err
	}
	m.BlackPool = black
	m.WhitePool = white
	obslog.L().Info("pools_reshuffled",
		zap.String("match", m.Name),
		zap.Int("black", len(black)),
		zap.Int("white", len(white)),
	)
	return c.distributePass(ctx, m, true)
}
