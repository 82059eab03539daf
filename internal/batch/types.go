package batch

import "time"

// Stage describes a step of one job.
type Stage string

const (
	// StageLoad reads and validates the module.
	StageLoad Stage = "load"
	// StageRegister registers the module's functions with a fresh unit.
	StageRegister Stage = "register"
	// StageSpecialize binds the job's arguments and specializes.
	StageSpecialize Stage = "specialize"
	// StageCall runs the specialization.
	StageCall Stage = "call"
	// StageFinish carries a job's final status once every stage it needs
	// has run.
	StageFinish Stage = "finish"
)

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress for one job.
type Event struct {
	Job     string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}
