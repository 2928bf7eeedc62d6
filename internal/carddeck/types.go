package carddeck

import "errors"

// Color selects one of the two card decks of a language.
type Color string

const (
	Black Color = "black"
	White Color = "white"
)

// Card is an immutable content record from a per-language catalog.
// Cards are referenced by integer index everywhere else; the text is
// only fetched when a card is dealt.
type Card struct {
	Text  string `json:"text"`
	Usage int    `json:"usage"`
}

var (
	ErrCardNotFound = errors.New("card not found in catalog")
	ErrEmptyDeck    = errors.New("deck has no cards for this language")
)
