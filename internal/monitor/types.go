// Package monitor defines the core types shared across the compintel pipeline.
package monitor

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors shared by stores and pipeline stages.
var (
	ErrNotFound         = errors.New("not found")
	ErrCaptchaDetected  = errors.New("captcha detected")
	ErrUnknownStage     = errors.New("unknown stage")
	ErrMissingArtifacts = errors.New("missing required tables")
	ErrQueueClosed      = errors.New("queue closed")
)

// ChangeType classifies a page relative to its last stored snapshot.
type ChangeType string

// Change classifications produced by hash comparison.
const (
	ChangeNew       ChangeType = "new"
	ChangeModified  ChangeType = "modified"
	ChangeUnchanged ChangeType = "unchanged"
)

// Detected reports whether the classification should trigger analysis.
func (c ChangeType) Detected() bool {
	return c == ChangeNew || c == ChangeModified
}

// Company is a tracked competitor and the URLs monitored for it.
type Company struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	Category      string       `json:"category,omitempty"`
	Description   string       `json:"description,omitempty"`
	InterestLevel int          `json:"interest_level,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	URLs          []TrackedURL `json:"urls,omitempty"`
}

// TrackedURL is a single page monitored for a company.
type TrackedURL struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	Active    bool   `json:"active"`
}

// JobStage names a pipeline stage that can be run on demand.
type JobStage string

// Stages accepted by the CLI, the API and the scheduler.
const (
	StageScrape   JobStage = "scrape"
	StageConvert  JobStage = "convert"
	StageAnalyze  JobStage = "analyze"
	StageBaseline JobStage = "baseline"
	StageGenerate JobStage = "generate"
	StagePipeline JobStage = "pipeline"
)

// ParseStage validates a stage name.
func ParseStage(raw string) (JobStage, error) {
	switch stage := JobStage(raw); stage {
	case StageScrape, StageConvert, StageAnalyze, StageBaseline, StageGenerate, StagePipeline:
		return stage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
	}
}

// JobStatus represents the lifecycle state of a stage job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// JobParams carries per-run knobs for a stage.
type JobParams struct {
	Mode       string `json:"mode,omitempty"`
	Force      bool   `json:"force,omitempty"`
	ReportOnly bool   `json:"report_only,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
}

// Job is the metadata kept for each submitted stage run.
type Job struct {
	ID        string     `json:"id"`
	Stage     JobStage   `json:"stage"`
	Status    JobStatus  `json:"status"`
	Params    JobParams  `json:"params"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Summary   any        `json:"summary,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Stage     JobStage
	Params    JobParams
	Submitted int64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL           string
	Headers       http.Header
	RespectRobots bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// TopicPageChanged is the event name published for new or modified pages.
const TopicPageChanged = "page.changed"

// ChangeEvent is the payload published when a page is new or modified.
type ChangeEvent struct {
	Company       string     `json:"company"`
	URL           string     `json:"url"`
	URLName       string     `json:"url_name"`
	ChangeType    ChangeType `json:"change_type"`
	OldHash       *string    `json:"old_hash"`
	NewHash       string     `json:"new_hash"`
	InterestLevel int        `json:"interest_level"`
	Category      string     `json:"category"`
	BlobURI       string     `json:"blob_uri,omitempty"`
	DetectedAt    time.Time  `json:"detected_at"`
}

// Attributes are copied onto broker messages for subscription filters.
func (e ChangeEvent) Attributes() map[string]string {
	return map[string]string{
		"company":     e.Company,
		"change_type": string(e.ChangeType),
	}
}
