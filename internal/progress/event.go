package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the archiver milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageCycleDone      Stage = "CYCLE_DONE"
	StageThreadArchived Stage = "THREAD_ARCHIVED"
	StageFetchDone      Stage = "FETCH_DONE"
)

// Event captures one unit of archiver progress.
type Event struct {
	// RunID identifies the archiver process in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Board scopes cycle and archive events.
	Board string
	// URL is set on fetch events.
	URL string
	// Outcome is the fetch classification: success, not_found or transient.
	Outcome string
	// Threads is the active thread count for cycles and 1 for archive events.
	Threads int64
	// Posts is the number of posts completed by a cycle or archived thread.
	Posts int64
	// Dur is the cycle or fetch latency.
	Dur time.Duration
	// Note carries low-volume debug context such as an error reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleDone, StageThreadArchived:
		if e.Board == "" {
			return fmt.Errorf("%s requires board", e.Stage)
		}
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Threads < 0 || e.Posts < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
