package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobHB        Stage = "JOB_HEARTBEAT"
	StageJobReconcile Stage = "JOB_RECONCILE"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StagePageFetch    Stage = "PAGE_FETCH"
	StagePageSkip     Stage = "PAGE_SKIP"
	StagePageDone     Stage = "PAGE_DONE"
	StagePageError    Stage = "PAGE_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page fetches.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of crawl pipeline progress.
type Event struct {
	// JobID uniquely identifies a crawl job using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which job or page milestone occurred.
	Stage Stage
	// Domain scopes page events to the domain being crawled.
	Domain string
	// URL is the optional page URL; it should not contain credentials.
	URL string
	// PipelineStage names the failed processing step for PAGE_ERROR events
	// (fetch, embed, or store).
	PipelineStage string
	// Bytes carries the response size for page fetches.
	Bytes int64
	// Chunks counts embedded chunks for completed pages.
	Chunks int64
	// Deleted counts pages marked deleted by reconciliation.
	Deleted int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures latency for fetches, page completions, and whole jobs.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobHB, StageJobReconcile, StageJobDone, StageJobError:
	case StagePageFetch:
		if e.Domain == "" {
			return errors.New("page fetch requires domain")
		}
		if e.StatusClass == "" {
			return errors.New("page fetch requires status class")
		}
	case StagePageSkip, StagePageDone:
		if e.Domain == "" {
			return errors.New("page event requires domain")
		}
		if e.URL == "" {
			return errors.New("page event requires url")
		}
	case StagePageError:
		if e.Domain == "" {
			return errors.New("page error requires domain")
		}
		if e.URL == "" {
			return errors.New("page error requires url")
		}
		if e.PipelineStage == "" {
			return errors.New("page error requires pipeline stage")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID for stores.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
