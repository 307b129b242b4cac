// Package strategy defines the Strategy interface for signal-generating
// trading strategies and provides a Registry for constructing them by name.
package strategy

import (
	"errors"
	"fmt"
	"sort"

	"quantdesk/internal/domain"
)

// ErrUnknownStrategy is returned by Registry.New for an unregistered name.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Kind tags the closed set of strategy variants shipped with quantdesk.
type Kind int

const (
	KindMovingAverageCrossover Kind = iota + 1
	KindOscillatorThreshold
)

// String returns the variant label used in logs and persisted runs.
func (k Kind) String() string {
	switch k {
	case KindMovingAverageCrossover:
		return "moving-average-crossover"
	case KindOscillatorThreshold:
		return "oscillator-threshold"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SignalSeries is a strategy's output, aligned 1:1 with the input bars.
// Indicators holds auxiliary values kept for diagnostics, keyed by name;
// entries before an indicator's warm-up are NaN.
type SignalSeries struct {
	Signals    []domain.Signal
	Indicators map[string][]float64
}

// Len returns the number of signals.
func (s SignalSeries) Len() int { return len(s.Signals) }

// HoldSeries returns an all-hold series of length n.
func HoldSeries(n int) SignalSeries {
	return SignalSeries{
		Signals:    make([]domain.Signal, n),
		Indicators: map[string][]float64{},
	}
}

// Strategy is the interface all trading strategies implement. Signal
// generation must be pure and deterministic: no I/O and no state carried
// between calls.
type Strategy interface {
	// Name returns the registry identifier for this strategy.
	Name() string

	// Kind returns the variant tag.
	Kind() Kind

	// Validate reports a configuration that violates the strategy's
	// constraints. It wraps ErrInvalidParameter.
	Validate() error

	// GenerateSignals derives one signal per bar. An empty input yields an
	// empty series, not an error.
	GenerateSignals(bars []domain.Bar) (SignalSeries, error)
}

// Factory builds a configured Strategy from loosely typed parameters.
type Factory func(Params) (Strategy, error)

// Registry holds a named collection of strategy factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// New constructs the named strategy with params. Parameter violations are
// reported before any computation takes place.
func (r *Registry) New(name string, params Params) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return f(params)
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
