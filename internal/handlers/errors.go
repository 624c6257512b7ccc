package handlers

import "fmt"

// RequestErrorKind classifies a rejected WebSocket request
type RequestErrorKind int

const (
	// RequestRequired means the message had no type
	RequestRequired RequestErrorKind = iota
	// UnknownRequest means the type is not one the endpoint handles
	UnknownRequest
	// TaskIDRequired means task_id was missing
	TaskIDRequired
	// TaskIDInvalid means task_id is not followed by the session
	TaskIDInvalid
	// TaskIDsRequired means task_ids was missing or empty
	TaskIDsRequired
)

// RequestError is a caller mistake reported back to the requesting connection.
// It never closes the connection.
type RequestError struct {
	Kind   RequestErrorKind
	TaskID string
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case RequestRequired:
		return "type is required"
	case UnknownRequest:
		return "unknown request type"
	case TaskIDRequired:
		return "task_id is required"
	case TaskIDInvalid:
		return fmt.Sprintf("task_id is not valid %s", e.TaskID)
	case TaskIDsRequired:
		return "task_ids is required"
	}
	return fmt.Sprintf("request error %d", int(e.Kind))
}

func newRequestError(kind RequestErrorKind) *RequestError {
	return &RequestError{Kind: kind}
}
