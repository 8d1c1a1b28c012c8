// Package identifier mints public slugs and ticket tokens.
package identifier

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// MaxAttempts bounds GenerateUnique. The keyspace is large enough that
// exhausting it points at a fault, not ordinary contention.
const MaxAttempts = 10

const (
	letters = "abcdefghjkmnpqrstuvwxyz"
	digits  = "23456789"
)

// ErrExhausted is returned when every attempt collided with an existing value.
var ErrExhausted = errors.New("identifier space exhausted")

// Indexer computes the blind index stored alongside an encrypted identifier.
type Indexer interface {
	BlindIndex(value string) (string, error)
}

// ExistsFunc reports whether an identifier with the given blind index is
// already stored.
type ExistsFunc func(ctx context.Context, index string) (bool, error)

// Identifier is a generated value together with its blind index.
type Identifier struct {
	Value string
	Index string
}

// Generator produces random identifiers of a fixed shape.
type Generator struct {
	length     int
	minDigits  int
	minLetters int
	indexer    Indexer
}

// New constructs a Generator. length must cover both minimums.
func New(indexer Indexer, length, minDigits, minLetters int) *Generator {
	if length < minDigits+minLetters {
		panic(fmt.Sprintf("identifier: length %d shorter than minimums %d+%d", length, minDigits, minLetters))
	}
	return &Generator{length: length, minDigits: minDigits, minLetters: minLetters, indexer: indexer}
}

// NewSlugGenerator returns the generator used for public event slugs.
func NewSlugGenerator(indexer Indexer) *Generator {
	return New(indexer, 6, 2, 2)
}

// NewTokenGenerator returns the generator used for ticket tokens.
func NewTokenGenerator(indexer Indexer) *Generator {
	return New(indexer, 16, 2, 2)
}

// Generate returns one candidate. The required digits and letters are drawn
// first and the whole buffer is then shuffled so they land anywhere.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, 0, g.length)

	for i := 0; i < g.minDigits; i++ {
		c, err := pick(digits)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for i := 0; i < g.minLetters; i++ {
		c, err := pick(letters)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < g.length {
		c, err := pick(letters + digits)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	// Fisher–Yates.
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

// GenerateUnique draws candidates until exists reports a free index, giving
// up with ErrExhausted after MaxAttempts.
func (g *Generator) GenerateUnique(ctx context.Context, exists ExistsFunc) (Identifier, error) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		value, err := g.Generate()
		if err != nil {
			return Identifier{}, fmt.Errorf("generate identifier: %w", err)
		}
		index, err := g.indexer.BlindIndex(value)
		if err != nil {
			return Identifier{}, fmt.Errorf("index identifier: %w", err)
		}
		taken, err := exists(ctx, index)
		if err != nil {
			return Identifier{}, fmt.Errorf("check identifier: %w", err)
		}
		if !taken {
			return Identifier{Value: value, Index: index}, nil
		}
	}
	return Identifier{}, fmt.Errorf("%w after %d attempts", ErrExhausted, MaxAttempts)
}

func pick(alphabet string) (byte, error) {
	n, err := randInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[n], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}
