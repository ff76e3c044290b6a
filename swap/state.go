package swap

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of a swap. The zero value is invalid.
type State uint8

const (
	StateInitiated State = iota + 1
	StateNegotiating
	StateAgreed
	StatePickupScheduled
	StateInTransit
	StateDelivered
	StateCompleted
	StateCancelled
	StateDisputed
)

// States lists every state in lifecycle order.
var States = []State{
	StateInitiated,
	StateNegotiating,
	StateAgreed,
	StatePickupScheduled,
	StateInTransit,
	StateDelivered,
	StateCompleted,
	StateCancelled,
	StateDisputed,
}

var stateNames = map[State]string{
	StateInitiated:       "INITIATED",
	StateNegotiating:     "NEGOTIATING",
	StateAgreed:          "AGREED",
	StatePickupScheduled: "PICKUP_SCHEDULED",
	StateInTransit:       "IN_TRANSIT",
	StateDelivered:       "DELIVERED",
	StateCompleted:       "COMPLETED",
	StateCancelled:       "CANCELLED",
	StateDisputed:        "DISPUTED",
}

// transitions is the adjacency table; nothing else decides legality.
// PICKUP_SCHEDULED and IN_TRANSIT reach DISPUTED only once a missed
// window has made the swap dispute-eligible.
var transitions = map[State][]State{
	StateInitiated:       {StateNegotiating, StateCancelled},
	StateNegotiating:     {StateAgreed, StateCancelled},
	StateAgreed:          {StatePickupScheduled, StateCancelled},
	StatePickupScheduled: {StateInTransit, StateDisputed},
	StateInTransit:       {StateDelivered, StateDisputed},
	StateDelivered:       {StateCompleted, StateDisputed},
	StateDisputed:        {StateCompleted, StateCancelled},
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateCompleted || s == StateCancelled }

// CanTransition reports whether next is one edge away from s.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Next returns the states reachable from s.
func (s State) Next() []State {
	return append([]State(nil), transitions[s]...)
}

func ParseState(v string) (State, error) {
	for s, n := range stateNames {
		if strings.EqualFold(strings.TrimSpace(v), n) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("swap: unknown state %q", v)
}

func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("swap: invalid state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
