package node

import (
	"github.com/looplab/fsm"
)

const (
	StateStopped = "STOPPED"
	StateRunning = "RUNNING"
	// StateSyncing means blocks are buffered waiting for a missing parent.
	StateSyncing = "SYNCING"
	// StateFailed is terminal, entered when applying a verified block failed.
	StateFailed = "FAILED"
)

const (
	EventRun    = "RUN"
	EventSync   = "SYNC"
	EventSynced = "SYNCED"
	EventFail   = "FAIL"
	EventStop   = "STOP"
)

// NewFiniteStateMachine creates the run state machine of the node.
// The finite state machine has the following states:
// - STOPPED
// - RUNNING
// - SYNCING
// - FAILED
// The finite state machine has the following events:
// - RUN
// - SYNC
// - SYNCED
// - FAIL
// - STOP
func (n *Node) NewFiniteStateMachine(opts ...func(*fsm.FSM)) *fsm.FSM {
	finiteStateMachine := fsm.NewFSM(
		StateStopped,
		fsm.Events{
			{
				Name: EventRun,
				Src:  []string{StateStopped},
				Dst:  StateRunning,
			},
			{
				Name: EventSync,
				Src:  []string{StateRunning},
				Dst:  StateSyncing,
			},
			{
				Name: EventSynced,
				Src:  []string{StateSyncing},
				Dst:  StateRunning,
			},
			{
				Name: EventFail,
				Src:  []string{StateStopped, StateRunning, StateSyncing},
				Dst:  StateFailed,
			},
			{
				Name: EventStop,
				Src:  []string{StateRunning, StateSyncing},
				Dst:  StateStopped,
			},
		},
		fsm.Callbacks{},
	)

	for _, opt := range opts {
		opt(finiteStateMachine)
	}

	return finiteStateMachine
}
