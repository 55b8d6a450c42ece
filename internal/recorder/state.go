package recorder

import "github.com/looplab/fsm"

// State is the recorder's single lifecycle variable.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateRecording    State = "recording"
	StatePaused       State = "paused"
	StateStopped      State = "stopped"
	StateReviewing    State = "reviewing"
	StateCancelled    State = "cancelled"
	StateError        State = "error"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateReviewing, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

// Events driving the machine.
const (
	eventInitialize = "initialize"
	eventReady      = "ready"
	eventFail       = "fail"
	eventStart      = "start"
	eventPause      = "pause"
	eventResume     = "resume"
	eventStop       = "stop"
	eventReview     = "review"
	eventCancel     = "cancel"
)

func src(states ...State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// newMachine builds the transition table. No callbacks are registered:
// side effects run in the Recorder after a transition succeeds.
func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventInitialize, Src: src(StateIdle), Dst: string(StateInitializing)},
			{Name: eventReady, Src: src(StateInitializing), Dst: string(StateReady)},
			{Name: eventFail, Src: src(StateInitializing, StateReady, StateRecording, StatePaused), Dst: string(StateError)},
			{Name: eventStart, Src: src(StateReady), Dst: string(StateRecording)},
			{Name: eventPause, Src: src(StateRecording), Dst: string(StatePaused)},
			{Name: eventResume, Src: src(StatePaused), Dst: string(StateRecording)},
			{Name: eventStop, Src: src(StateRecording, StatePaused), Dst: string(StateStopped)},
			{Name: eventReview, Src: src(StateStopped), Dst: string(StateReviewing)},
			{Name: eventCancel, Src: src(StateIdle, StateInitializing, StateReady, StateRecording, StatePaused, StateStopped), Dst: string(StateCancelled)},
		},
		nil,
	)
}
