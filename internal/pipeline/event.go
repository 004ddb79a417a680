package pipeline

import "time"

// Event status values.
const (
	EventStatusSuccess = "success"
	EventStatusError   = "error"
)

// Event summarizes a finished run for external subscribers.
type Event struct {
	RunID       string    `json:"run_id"`
	ClientID    string    `json:"client_id"`
	Status      string    `json:"status"`
	FailedIn    string    `json:"failed_in,omitempty"`
	Error       string    `json:"error,omitempty"`
	Dataset     string    `json:"dataset,omitempty"`
	Detections  int       `json:"detections"`
	Removed     int64     `json:"duplicates_removed"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	FinishedAt  time.Time `json:"finished_at"`
}

func newEvent(req Request, outcome *Outcome) *Event {
	e := &Event{
		RunID:       req.RunID,
		ClientID:    req.ClientID,
		Status:      EventStatusSuccess,
		Dataset:     outcome.Dataset,
		Detections:  outcome.Detections,
		Removed:     outcome.Dedup.Removed,
		WindowStart: req.Start.UTC(),
		WindowEnd:   req.End.UTC(),
		FinishedAt:  time.Now().UTC(),
	}
	if outcome.Err != nil {
		e.Status = EventStatusError
		e.FailedIn = outcome.FailedIn.String()
		e.Error = outcome.Err.Error()
	}
	return e
}
