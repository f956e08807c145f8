package errors

import "fmt"

var (
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrEmptyWords        = fmt.Errorf("no words have been found")
	ErrConnectionFailure = fmt.Errorf("channel connection failure")
	ErrRetriesExhausted  = fmt.Errorf("channel reconnection attempts exhausted")
	ErrSendFailure       = fmt.Errorf("broadcast rejected")
	ErrNoActiveChannel   = fmt.Errorf("no active channel subscription")
	ErrEmptyMessage      = fmt.Errorf("message is empty")
	ErrMalformedPayload  = fmt.Errorf("malformed payload")
	ErrChannelClosed     = fmt.Errorf("channel closed")
	ErrAckTimeout        = fmt.Errorf("acknowledgment timed out")
	ErrUnknownTopic      = fmt.Errorf("unknown topic")
)
