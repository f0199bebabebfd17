package agent

import "fmt"

// Policy names accepted by NewModelPolicy.
const (
	PolicyFallbackAfterFirstRound = "fallback_after_first_round"
	PolicyPrimaryEachRound        = "primary_each_round"
)

// ModelPolicy decides which models to try, in order, for a completion
// round. Round 0 is the first completion of a Handle call.
type ModelPolicy interface {
	Candidates(round int) []string
}

// FallbackAfterFirstRound tries the primary model and then the fallback
// in round 0, and only the fallback model in every later round.
type FallbackAfterFirstRound struct {
	Primary  string
	Fallback string
}

// Candidates implements ModelPolicy.
func (p FallbackAfterFirstRound) Candidates(round int) []string {
	if round == 0 {
		return []string{p.Primary, p.Fallback}
	}
	return []string{p.Fallback}
}

// PrimaryEachRound tries the primary model and then the fallback in
// every round.
type PrimaryEachRound struct {
	Primary  string
	Fallback string
}

// Candidates implements ModelPolicy.
func (p PrimaryEachRound) Candidates(int) []string {
	return []string{p.Primary, p.Fallback}
}

// NewModelPolicy returns the named policy over a primary/fallback pair.
// An empty name selects FallbackAfterFirstRound.
func NewModelPolicy(name, primary, fallback string) (ModelPolicy, error) {
	switch name {
	case "", PolicyFallbackAfterFirstRound:
		return FallbackAfterFirstRound{Primary: primary, Fallback: fallback}, nil
	case PolicyPrimaryEachRound:
		return PrimaryEachRound{Primary: primary, Fallback: fallback}, nil
	default:
		return nil, fmt.Errorf("unknown model policy %q", name)
	}
}
