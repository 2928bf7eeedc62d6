package carddeck

import (
	"context"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Deck is the on-disk form of one language's card set.
type Deck struct {
	Language string `yaml:"language"`
	Black    []Card `yaml:"black"`
	White    []Card `yaml:"white"`
}

// card YAML shape mirrors the JSON one.
func (c *Card) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		Text  string `yaml:"text"`
		Usage int    `yaml:"usage"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	c.Text = aux.Text
	c.Usage = aux.Usage
	return nil
}

// LoadDeckFile parses a YAML deck file.
func LoadDeckFile(path string) (*Deck, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deck file: %w", err)
	}
	var d Deck
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse deck file %s: %w", path, err)
	}
	if d.Language == "" {
		return nil, fmt.Errorf("deck file %s: missing language", path)
	}
	if len(d.Black) == 0 || len(d.White) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDeck, d.Language)
	}
	return &d, nil
}

// SeedFromFile loads a deck file into a Redis catalog, both colors.
func SeedFromFile(ctx context.Context, cat *RedisCatalog, path string) (string, error) {
	d, err := LoadDeckFile(path)
	if err != nil {
		return "", err
	}
	if err := cat.Seed(ctx, d.Language, Black, d.Black); err != nil {
		return "", err
	}
	if err := cat.Seed(ctx, d.Language, White, d.White); err != nil {
		return "", err
	}
	return d.Language, nil
}
