package coordinator

import "github.com/gproductions/cardsagainst/internal/matchdoc"

// Events is the sink for lifecycle notifications produced towards the UI
// layer. Callbacks run on the coordinator's subscription goroutine, so
// implementations should hand off instead of blocking.
type Events interface {
	MatchCreated(m *matchdoc.Match)
	MatchJoined(m *matchdoc.Match)
	PlayersChanged(m *matchdoc.Match)
	MatchStarted(m *matchdoc.Match)
	DistributionDone(m *matchdoc.Match)
	ChoicesUpdated(m *matchdoc.Match)
	RoundResolved(m *matchdoc.Match)
	GameEnded(m *matchdoc.Match, reward float64)
	MatchGone()
	Error(err error)
}

// NopEvents discards every notification.
type NopEvents struct{}

func (NopEvents) MatchCreated(*matchdoc.Match)       {}
func (NopEvents) MatchJoined(*matchdoc.Match)        {}
func (NopEvents) PlayersChanged(*matchdoc.Match)     {}
func (NopEvents) MatchStarted(*matchdoc.Match)       {}
func (NopEvents) DistributionDone(*matchdoc.Match)   {}
func (NopEvents) ChoicesUpdated(*matchdoc.Match)     {}
func (NopEvents) RoundResolved(*matchdoc.Match)      {}
func (NopEvents) GameEnded(*matchdoc.Match, float64) {}
func (NopEvents) MatchGone()                         {}
func (NopEvents) Error(error)                        {}
