package domain

import "fmt"

type ItemState string

const (
	StatePending       ItemState = "pending"
	StateValidated     ItemState = "validated"
	StateNeedsHint     ItemState = "needs_hint"
	StateHintGenerated ItemState = "hint_generated"
	StateUploaded      ItemState = "uploaded"
	StateExecuted      ItemState = "executed"
	StateDownloaded    ItemState = "downloaded"
	StateCompleted     ItemState = "completed"
	StateFailed        ItemState = "failed"
)

var allowedTransitions = map[ItemState]map[ItemState]bool{
	"": {
		StatePending: true,
	},
	StatePending: {
		StateValidated: true,
		StateFailed:    true,
	},
	StateValidated: {
		StateNeedsHint: true,
		StateUploaded:  true,
		StateFailed:    true,
	},
	StateNeedsHint: {
		StateHintGenerated: true,
		StateFailed:        true,
	},
	StateHintGenerated: {
		StateUploaded: true,
		StateFailed:   true,
	},
	StateUploaded: {
		StateExecuted: true,
		StateFailed:   true,
	},
	StateExecuted: {
		StateDownloaded: true,
		StateFailed:     true,
	},
	StateDownloaded: {
		StateCompleted: true,
		StateFailed:    true,
	},
	StateCompleted: {},
	StateFailed:    {},
}

func (s ItemState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func CanTransition(from, to ItemState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func (p *PromptSpec) Transition(to ItemState) error {
	if !CanTransition(p.State, to) {
		return fmt.Errorf("invalid item state transition: %q -> %q (id=%s)", p.State, to, p.ID)
	}
	p.State = to
	return nil
}

// Fail moves the item into the absorbing failed state and keeps cause as
// LastError. Failing an item that is already terminal is an error.
func (p *PromptSpec) Fail(cause error) error {
	if err := p.Transition(StateFailed); err != nil {
		return err
	}
	p.LastError = cause
	return nil
}
