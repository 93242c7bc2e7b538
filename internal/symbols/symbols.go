// Package symbols holds the registry of tradable pairs and the
// normalization rules for user-supplied symbol strings.
package symbols

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

// Pair is a tradable market. Symbol is the canonical "BASE-QUOTE" form.
type Pair struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// Registry resolves symbol strings to registered pairs. The accepted
// input forms are "BASE-QUOTE", "BASE/QUOTE", "BASE_QUOTE" and the
// concatenated "BASEQUOTE" form, all case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	pairs    map[string]Pair // canonical symbol -> pair
	byConcat map[string]Pair // "BASEQUOTE" -> pair
}

func NewRegistry(pairs []Pair) (*Registry, error) {
	r := &Registry{
		pairs:    make(map[string]Pair, len(pairs)),
		byConcat: make(map[string]Pair, len(pairs)),
	}
	for _, p := range pairs {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(p Pair) error {
	base := strings.ToUpper(strings.TrimSpace(p.Base))
	quote := strings.ToUpper(strings.TrimSpace(p.Quote))
	if base == "" || quote == "" {
		return fmt.Errorf("pair %q: base and quote required", p.Symbol)
	}
	if base == quote {
		return fmt.Errorf("pair %q: base and quote must differ", p.Symbol)
	}

	canonical := base + "-" + quote

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pairs[canonical]; exists {
		return fmt.Errorf("pair %q already registered", canonical)
	}
	pair := Pair{Symbol: canonical, Base: base, Quote: quote}
	r.pairs[canonical] = pair
	r.byConcat[base+quote] = pair
	return nil
}

// Resolve normalizes raw to a registered pair. An unregistered but
// well-formed symbol still returns ErrUnknownSymbol: trading is only
// allowed on markets the registry knows about.
func (r *Registry) Resolve(raw string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Pair{}, fmt.Errorf("%w: empty symbol", ErrUnknownSymbol)
	}

	s = strings.NewReplacer("/", "-", "_", "-").Replace(s)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if base, quote, ok := strings.Cut(s, "-"); ok {
		if p, found := r.pairs[base+"-"+quote]; found {
			return p, nil
		}
		return Pair{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, raw)
	}

	// Concatenated form: resolvable only against registered pairs,
	// since the base/quote split is otherwise ambiguous.
	if p, found := r.byConcat[s]; found {
		return p, nil
	}
	return Pair{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, raw)
}

// Pairs returns all registered pairs sorted by canonical symbol.
func (r *Registry) Pairs() []Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Pair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Default returns the registry of markets supported at launch.
func Default() *Registry {
	bases := []string{
		"BTC", "ETH", "SOL", "BNB", "XRP",
		"ADA", "DOGE", "LTC", "BCH", "AVAX",
		"DOT", "MATIC", "LINK", "UNI", "ATOM",
	}
	pairs := make([]Pair, 0, len(bases))
	for _, b := range bases {
		pairs = append(pairs, Pair{Base: b, Quote: "USDT"})
	}
	r, err := NewRegistry(pairs)
	if err != nil {
		panic(err)
	}
	return r
}
