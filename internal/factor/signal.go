// Package factor computes factor signals from bar history and blends them
// into a composite score.
package factor

import (
	"errors"
	"fmt"
	"sort"

	"factor-lab/internal/domain"
)

// Registry errors
var (
	ErrUnknownFactor   = errors.New("unknown factor")
	ErrDuplicateFactor = errors.New("factor already registered")
	ErrSignalLength    = errors.New("signal length does not match bars")
)

// Signal computes one factor column over the full bar table.
// The returned column must be aligned 1:1 with bars and named name.
// Implementations must not mutate bars.
type Signal interface {
	Compute(bars []domain.Bar, window int, name string) domain.Column
}

// SignalFunc adapts an ordinary function to Signal.
type SignalFunc func(bars []domain.Bar, window int) []float64

// Compute calls f and names the result.
func (f SignalFunc) Compute(bars []domain.Bar, window int, name string) domain.Column {
	return domain.Column{Name: name, Values: f(bars, window)}
}

// Registry maps factor names to Signal implementations.
type Registry struct {
	signals map[string]Signal
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		signals: make(map[string]Signal),
	}
}

// Register adds a signal under name.
func (r *Registry) Register(name string, s Signal) error {
	if _, exists := r.signals[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFactor, name)
	}
	r.signals[name] = s
	return nil
}

// Get retrieves a signal by name. The second return value indicates whether
// the signal was found.
func (r *Registry) Get(name string) (Signal, bool) {
	s, ok := r.signals[name]
	return s, ok
}

// List returns a sorted slice of all registered factor names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.signals))
	for name := range r.signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolved is a factor weight bound to its implementation.
type Resolved struct {
	Name   string
	Weight float64
	Signal Signal
}

// Resolve binds every entry of weights to a registered signal, keeping the
// blend order. Fails on the first unknown name.
func (r *Registry) Resolve(weights domain.FactorWeights) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(weights))
	for _, w := range weights {
		s, ok := r.signals[w.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFactor, w.Name)
		}
		resolved = append(resolved, Resolved{Name: w.Name, Weight: w.Weight, Signal: s})
	}
	return resolved, nil
}
