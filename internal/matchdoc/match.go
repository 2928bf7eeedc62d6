package matchdoc

import (
	"strings"

	"github.com/gproductions/cardsagainst/internal/carddeck"
)

// Match is the single shared mutable aggregate of a running game. Every
// participating client reads and writes the same document; multi-writer
// fields (players, distributing, per-player choice keys) are only ever
// mutated with set-algebra updates so concurrent writes commute.
type Match struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Passkey  string `json:"passkey,omitempty"`
	Active   bool   `json:"active"`

	Dealer string `json:"dealer"`
	Round  int    `json:"round"`
	Rounds int    `json:"rounds"`
	Winner string `json:"winner"`

	BlackCard BlackCard `json:"actualBlackCard"`

	Players      []string                   `json:"players"`
	Distributing []string                   `json:"distributing"`
	Points       map[string]int             `json:"playersPoints"`
	Hands        map[string][]carddeck.Card `json:"playersCards"`
	Choices      map[string][]carddeck.Card `json:"playersChoices"`

	BlackPool []int `json:"blackCards"`
	WhitePool []int `json:"whiteCards"`
}

// BlackCard is the prompt card currently in play.
type BlackCard = carddeck.Card

// Phase is the lifecycle phase, reconstructed from the document fields.
// The stored schema has no explicit phase field: Lobby is the inactive
// match, Distributing is signalled through the distributing set, and a
// decided winner marks the awarding window until the dealer re-enters
// distribution.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseDistributing
	PhasePlaying
	PhaseAwarding
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "lobby"
	case PhaseDistributing:
		return "distributing"
	case PhasePlaying:
		return "playing"
	case PhaseAwarding:
		return "awarding"
	default:
		return "unknown"
	}
}

func (m *Match) Phase() Phase {
	switch {
	case !m.Active:
		return PhaseLobby
	case len(m.Distributing) > 0:
		return PhaseDistributing
	case m.Winner != "":
		return PhaseAwarding
	default:
		return PhasePlaying
	}
}

func (m *Match) HasPlayer(uid string) bool {
	for _, p := range m.Players {
		if p == uid {
			return true
		}
	}
	return false
}

// DistributingCovers reports whether every current player has signalled
// readiness for this distribution round. This is the dealer's trigger to
// run the distribution pass.
func (m *Match) DistributingCovers() bool {
	for _, p := range m.Players {
		found := false
		for _, d := range m.Distributing {
			if d == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ChoicesComplete reports whether every non-dealer player has submitted a
// choice. One fewer must not trigger; one more is impossible because each
// player writes only its own sub-key.
func (m *Match) ChoicesComplete() bool {
	return len(m.Choices) == len(m.Players)-1
}

// DealerSuccessor returns the next dealer. The successor is located by the
// current dealer's id rather than a remembered position, so a concurrent
// join or leave that shifts indices cannot skip or repeat a player. If the
// dealer is no longer in players the first player takes over.
func (m *Match) DealerSuccessor() string {
	if len(m.Players) == 0 {
		return ""
	}
	for i, p := range m.Players {
		if p == m.Dealer {
			return m.Players[(i+1)%len(m.Players)]
		}
	}
	return m.Players[0]
}

// Gaps counts the blanks in a black card text. A card without explicit
// blanks still takes one answer card.
func Gaps(text string) int {
	n := strings.Count(text, "__")
	if n == 0 {
		n = 1
	}
	return n
}

// EnsureMaps initialises the map fields after JSON decoding, which leaves
// absent maps nil.
func (m *Match) EnsureMaps() {
	if m.Points == nil {
		m.Points = make(map[string]int)
	}
	if m.Hands == nil {
		m.Hands = make(map[string][]carddeck.Card)
	}
	if m.Choices == nil {
		m.Choices = make(map[string][]carddeck.Card)
	}
}
