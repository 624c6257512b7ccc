package models

import (
	"encoding/json"
	"math"
)

// ProgressInfo is the progress metadata attached to a task in PROGRESS state
type ProgressInfo struct {
	Current     int64   `json:"current"`
	Total       int64   `json:"total"`
	Percent     float64 `json:"percent"`
	Description string  `json:"description,omitempty"`
	ProgressID  string  `json:"progress_id,omitempty"`
}

// FailureInfo is the metadata recorded when a task is stopped with an error
type FailureInfo struct {
	Current    int64   `json:"current"`
	Total      int64   `json:"total"`
	Percent    float64 `json:"percent"`
	ExcMessage string  `json:"exc_message"`
	ExcType    string  `json:"exc_type"`
}

// TaskError describes why a completed task failed
type TaskError struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// TaskProgress is the normalized snapshot of a task sent to observers.
//
// Progress is kept as raw JSON so metadata reported by the producer is passed
// through unchanged. When Raw is set the snapshot is an opaque store payload
// for a state this service does not interpret, and it is encoded as-is.
type TaskProgress struct {
	TaskID   string          `json:"task_id"`
	Complete bool            `json:"complete"`
	Success  *bool           `json:"success"`
	Progress json.RawMessage `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    *TaskError      `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type taskProgressAlias TaskProgress

// MarshalJSON encodes the opaque payload when present
func (p TaskProgress) MarshalJSON() ([]byte, error) {
	if p.Raw != nil {
		return p.Raw, nil
	}
	return json.Marshal(taskProgressAlias(p))
}

// ProgressInfo decodes the progress section
func (p TaskProgress) ProgressInfo() (ProgressInfo, error) {
	var info ProgressInfo
	if len(p.Progress) == 0 {
		return info, nil
	}
	err := json.Unmarshal(p.Progress, &info)
	return info, err
}

// Percent returns current/total*100 rounded to two decimals, or 0 when total <= 0.
// The result is clamped to [0, 100] so overshooting producers never report more than done.
func Percent(current, total int64) float64 {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	// Ties round to even on the scaled value; the ratio is computed in one
	// step so 1/3 gives 33.33 rather than 33.33000000000001.
	return math.RoundToEven(float64(current)*10000/float64(total)) / 100
}

// UnknownProgress is reported for tasks that have not published progress yet
func UnknownProgress() ProgressInfo {
	return ProgressInfo{Current: 0, Total: 100, Percent: 0}
}

// CompletedProgress is reported for tasks in a ready state
func CompletedProgress() ProgressInfo {
	return ProgressInfo{Current: 100, Total: 100, Percent: 100}
}
