package events

import "github.com/rs/zerolog"

// StatusState is the lifecycle of one long-running sub-task. For a given task
// id the states follow start -> (progress)* -> (end | error), with exactly one
// terminal state per open task. Task ids only need to be unique among
// concurrently open tasks; reuse after a terminal state is valid.
type StatusState string

const (
	StatusStart    StatusState = "start"
	StatusProgress StatusState = "progress"
	StatusEnd      StatusState = "end"
	StatusError    StatusState = "error"
)

// Status is a progress notification for a long-running sub-task, emitted
// transiently through the custom side-channel and never persisted.
type Status struct {
	TaskID      string      `json:"task_id"`
	State       StatusState `json:"state"`
	Message     string      `json:"content"`
	ErrorDetail string      `json:"error_details,omitempty"`
}

func NewStatus(taskID string, state StatusState, message string) Status {
	return Status{TaskID: taskID, State: state, Message: message}
}

func NewErrorStatus(taskID string, message string, detail string) Status {
	return Status{TaskID: taskID, State: StatusError, Message: message, ErrorDetail: detail}
}

func (s Status) Terminal() bool {
	return s.State == StatusEnd || s.State == StatusError
}

func (s Status) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("task_id", s.TaskID).Str("state", string(s.State)).Str("message", s.Message)
	if s.ErrorDetail != "" {
		ev.Str("error_details", s.ErrorDetail)
	}
}
