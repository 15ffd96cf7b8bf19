package stream

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentex/agentex-go/runtime/agent/message"
)

type phase int

const (
	phaseStarted phase = iota + 1
	phaseFull
	phaseDone
)

// Validator checks that observed updates follow the message protocol: per
// index, Start Delta* Done, Full Done or Start Delta* Full Done, with nothing
// after Done. It is safe for concurrent use.
type Validator struct {
	mu     sync.Mutex
	phases map[int]phase
}

// NewValidator returns an empty validator.
func NewValidator() *Validator {
	return &Validator{phases: make(map[int]phase)}
}

// Observe records u and reports a protocol violation.
func (v *Validator) Observe(u message.Update) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := u.Head().Index
	cur := v.phases[idx]
	next, ok := transition(cur, u.Type())
	if !ok {
		return fmt.Errorf("stream: index %d: %s not allowed after %s", idx, u.Type(), cur)
	}
	v.phases[idx] = next
	return nil
}

// Finish reports indices that were opened but never received Done.
func (v *Validator) Finish() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var open []int
	for idx, p := range v.phases {
		if p != phaseDone {
			open = append(open, idx)
		}
	}
	if len(open) == 0 {
		return nil
	}
	sort.Ints(open)
	return fmt.Errorf("stream: indices %v never closed", open)
}

func transition(cur phase, t message.UpdateType) (phase, bool) {
	switch t {
	case message.UpdateStart:
		return phaseStarted, cur == 0
	case message.UpdateDelta:
		return phaseStarted, cur == phaseStarted
	case message.UpdateFull:
		return phaseFull, cur == 0 || cur == phaseStarted
	case message.UpdateDone:
		return phaseDone, cur == phaseStarted || cur == phaseFull
	}
	return cur, false
}

func (p phase) String() string {
	switch p {
	case phaseStarted:
		return "start"
	case phaseFull:
		return "full"
	case phaseDone:
		return "done"
	}
	return "nothing"
}
