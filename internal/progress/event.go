package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/compintel-monitor/internal/monitor"
)

// Stage is the milestone an Event reports.
type Stage string

// Scrape run milestones.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageFetchStart Stage = "FETCH_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageFetchError Stage = "FETCH_ERROR"
	StageChange     Stage = "CHANGE_DETECTED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes used on fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress record from a scrape run.
type Event struct {
	RunID       uuid.UUID
	TS          time.Time
	Stage       Stage
	Company     string
	Site        string
	URL         string
	Bytes       int64
	StatusClass StatusClass
	Dur         time.Duration
	Change      monitor.ChangeType
	Interest    int
	// Note holds short error text on failures.
	Note string
}

// Validate rejects events the sinks cannot label.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchStart, StageFetchError:
		if e.Site == "" {
			return fmt.Errorf("%s requires site", e.Stage)
		}
	case StageFetchDone:
		if e.Site == "" || e.StatusClass == "" {
			return errors.New("fetch done requires site and status class")
		}
	case StageChange:
		if !e.Change.Detected() {
			return fmt.Errorf("change event with type %q", e.Change)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch code / 100 {
	case 2:
		return Status2xx
	case 3:
		return Status3xx
	case 4:
		return Status4xx
	case 5:
		return Status5xx
	default:
		return StatusOther
	}
}
