package exec

import "sync"

type State string

type Event string

const (
	StateIdle      State = "IDLE"
	StateExecuting State = "EXECUTING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

const (
	EventStart   Event = "start"
	EventSucceed Event = "succeed"
	EventFail    Event = "fail"
	EventReset   Event = "reset"
)

type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateIdle}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func nextState(current State, event Event) State {
	if event == EventReset {
		return StateIdle
	}
	switch current {
	case StateIdle:
		if event == EventStart {
			return StateExecuting
		}
	case StateExecuting:
		if event == EventSucceed {
			return StateCompleted
		}
		if event == EventFail {
			return StateFailed
		}
	}
	return current
}
