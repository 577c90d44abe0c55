package types

import (
	"time"
)

// TaskKind identifies the class of work a task performs.
type TaskKind string

const (
	TaskKindIngest        TaskKind = "ingest"
	TaskKindEmbedding     TaskKind = "embedding"
	TaskKindOCR           TaskKind = "ocr"
	TaskKindImageAnalysis TaskKind = "image_analysis"
)

// TaskState is the lifecycle state of a governor-owned task. Transitions are
// monotonic: queued -> running -> one of the terminal states. A task is never
// re-queued.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether the state ends the task lifecycle.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a transient unit of work owned by the resource governor.
type Task struct {
	ID         string      `json:"id"`
	Kind       TaskKind    `json:"kind"`
	Payload    interface{} `json:"payload,omitempty"`
	Priority   int         `json:"priority"`
	SubmitTime time.Time   `json:"submit_time"`
	State      TaskState   `json:"state"`
	Err        error       `json:"-"`
}
