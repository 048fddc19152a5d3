// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package fsm defines a generic finite state machine with a declared set of
// transitions. Events are matched by their String() value, so event types may
// carry a payload that is kept as the source of the current state.
package fsm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrFsmEventNotFound     = errors.New("event not found in fsm transitions")
	ErrFsmInvalidTransition = errors.New("invalid fsm transition")
)

type Stringer interface {
	String() string
}

// State is any comparable, printable state value.
type State interface {
	comparable
	Stringer
}

// FsmEvent declares that an event of type Typ moves the machine from any of
// the From states into To.
type FsmEvent[E Stringer, T State] struct {
	Typ  E
	From []T
	To   T
}

// CurrentState is the state the machine is in and the event that brought it there.
type CurrentState[E Stringer, T State] struct {
	State       T
	SourceEvent E
}

type transition[E Stringer, T State] struct {
	From  T
	To    T
	Event E
}

type Opt[E Stringer, T State] func(*Fsm[E, T])

// WithTrackedTransitions keeps a record of every executed transition.
func WithTrackedTransitions[E Stringer, T State]() Opt[E, T] {
	return func(f *Fsm[E, T]) {
		f.trackTransitions = true
	}
}

type Fsm[E Stringer, T State] struct {
	curr                CurrentState[E, T]
	validTransitions    map[string]*FsmEvent[E, T]
	trackTransitions    bool
	transitionsExecuted []*transition[E, T]
}

func NewFsm[E Stringer, T State](
	startState T,
	transitions []*FsmEvent[E, T],
	opts ...Opt[E, T],
) (*Fsm[E, T], error) {
	if len(transitions) == 0 {
		return nil, errors.New("no transitions provided")
	}
	f := &Fsm[E, T]{
		curr:             CurrentState[E, T]{State: startState},
		validTransitions: make(map[string]*FsmEvent[E, T], len(transitions)),
	}
	for _, tr := range transitions {
		name := tr.Typ.String()
		if _, ok := f.validTransitions[name]; ok {
			return nil, fmt.Errorf("duplicate transition for event %s", name)
		}
		f.validTransitions[name] = tr
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Fsm[E, T]) Current() CurrentState[E, T] {
	return f.curr
}

// Do applies an event, failing if it is unknown or not allowed from the current state.
func (f *Fsm[E, T]) Do(event E) error {
	tr, ok := f.validTransitions[event.String()]
	if !ok {
		return errors.Wrapf(ErrFsmEventNotFound, "event %s", event.String())
	}
	allowed := false
	for _, from := range tr.From {
		if from == f.curr.State {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Wrapf(ErrFsmInvalidTransition, "event %s from state %s", event.String(), f.curr.State.String())
	}
	if f.trackTransitions {
		f.transitionsExecuted = append(f.transitionsExecuted, &transition[E, T]{
			From:  f.curr.State,
			To:    tr.To,
			Event: event,
		})
	}
	f.curr = CurrentState[E, T]{State: tr.To, SourceEvent: event}
	return nil
}

// Clone returns an independent machine in the same state. The transition
// table is shared since it is never mutated after construction.
func (f *Fsm[E, T]) Clone() *Fsm[E, T] {
	c := &Fsm[E, T]{
		curr:             f.curr,
		validTransitions: f.validTransitions,
		trackTransitions: f.trackTransitions,
	}
	if len(f.transitionsExecuted) > 0 {
		c.transitionsExecuted = make([]*transition[E, T], len(f.transitionsExecuted))
		copy(c.transitionsExecuted, f.transitionsExecuted)
	}
	return c
}

// TransitionCount returns the number of tracked transitions.
func (f *Fsm[E, T]) TransitionCount() int {
	return len(f.transitionsExecuted)
}
