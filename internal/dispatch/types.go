package dispatch

import (
	"time"

	"github.com/cockroachdb/errors"
)

// JobStatus is the caller-visible lifecycle of one bulk-send job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusPaused     JobStatus = "paused"
	StatusCompleted  JobStatus = "completed"
	StatusStopped    JobStatus = "stopped"
	StatusFailed     JobStatus = "failed"
)

// ErrTemplateInvalid rejects a job whose template carries neither content nor
// variants. Surfaced synchronously at submission, before the job ever enters
// the state machine.
var ErrTemplateInvalid = errors.New("template has neither content nor variants")

// Recipient is one contact target within a job. Attrs are substitutable as
// {{key}} tokens next to the built-in {{name}} and {{phone}}.
type Recipient struct {
	ID    string            `json:"id"`
	Name  string            `json:"name"`
	Phone string            `json:"phone"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Template is either a single content string or a non-empty list of variants,
// one of which is chosen uniformly at random per recipient.
type Template struct {
	Content  string   `json:"content,omitempty"`
	Variants []string `json:"variants,omitempty"`
}

func (t Template) valid() bool { return t.Content != "" || len(t.Variants) > 0 }

// DelayMode selects how the inter-message wait is computed.
type DelayMode string

const (
	DelayStatic  DelayMode = "static"
	DelayDynamic DelayMode = "dynamic"
)

// DelayConfig is the inter-message throttle. Range is in seconds: one value
// for static, [min,max] for dynamic.
type DelayConfig struct {
	Mode  DelayMode `json:"mode"`
	Range []float64 `json:"range"`
}

// DeliveryStatus is the outcome of one send attempt.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryPending DeliveryStatus = "pending"
)

// DeliveryRecord is produced exactly once per recipient per job run. Failed
// sends are never retried automatically.
type DeliveryRecord struct {
	Recipient Recipient      `json:"recipient"`
	Status    DeliveryStatus `json:"status"`
	At        time.Time      `json:"at"`
	Error     string         `json:"error,omitempty"`
}

// Job is one bulk-send request. Immutable after submission except for its
// status and pause flag, which the dispatcher owns.
type Job struct {
	ID         string
	Recipients []Recipient
	Template   Template
	MediaRef   string
	Delay      DelayConfig

	status JobStatus
}

func (j *Job) Status() JobStatus { return j.status }

// Progress is the payload of every job-progress event. Records is populated
// only on the terminal event.
type Progress struct {
	JobID     string           `json:"jobId"`
	Processed int              `json:"processed"`
	Total     int              `json:"total"`
	Success   int              `json:"success"`
	Failed    int              `json:"failed"`
	Status    JobStatus        `json:"status"`
	Records   []DeliveryRecord `json:"records,omitempty"`
}

// ErrorDetail is the payload of a job-error-detail event, one per failed
// recipient send.
type ErrorDetail struct {
	JobID string `json:"jobId"`
	Phone string `json:"phone"`
	Error string `json:"error"`
}
