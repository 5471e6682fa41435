// Package ordernumber generates human-readable order identifiers of the form
// AFM-YYMMDD-XXXXXX. The date is UTC and the suffix is six upper-case base-36
// characters. Uniqueness is enforced by the orders table, not here.
package ordernumber

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"time"
)

const (
	Prefix       = "AFM"
	suffixLength = 6
	alphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var pattern = regexp.MustCompile(`^AFM-\d{6}-[0-9A-Z]{6}$`)

// Generator produces order numbers from a clock and a random source.
type Generator struct {
	now    func() time.Time
	random io.Reader
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithRandom overrides the entropy source.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

// New returns a generator backed by time.Now and crypto/rand.
func New(opts ...Option) *Generator {
	g := &Generator{now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns a fresh order number.
func (g *Generator) Next() (string, error) {
	buf := make([]byte, suffixLength)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return "", fmt.Errorf("reading entropy: %w", err)
	}
	suffix := make([]byte, suffixLength)
	for i, b := range buf {
		// modulo skews slightly toward the first four symbols (256 = 7*36 + 4).
		suffix[i] = alphabet[int(b)%len(alphabet)]
	}
	return fmt.Sprintf("%s-%s-%s", Prefix, g.now().UTC().Format("060102"), suffix), nil
}

var defaultGenerator = New()

// Generate returns an order number using the default generator.
func Generate() (string, error) {
	return defaultGenerator.Next()
}

// Valid reports whether s has the order number shape.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
