package domain

import (
	"errors"
	"fmt"
)

// Failure classes. A *BrokerError unwraps to exactly one of the first six.
var (
	ErrConnection  = errors.New("connection failure")
	ErrSession     = errors.New("session failure")
	ErrDestination = errors.New("destination failure")
	ErrPublish     = errors.New("publish failure")
	ErrReceive     = errors.New("receive failure")
	ErrSinkForward = errors.New("sink forward failure")

	ErrInvalidKind       = errors.New("invalid destination kind")
	ErrMalformedDelivery = errors.New("malformed delivery")
	ErrHandleClosed      = errors.New("destination handle closed")
	ErrWrongRole         = errors.New("operation not supported for this role")
)

// Step names the broker operation that failed.
type Step string

const (
	StepConnect     Step = "connect"
	StepSession     Step = "session"
	StepDestination Step = "destination-lookup"
	StepProducer    Step = "producer-creation"
	StepConsumer    Step = "consumer-creation"
	StepPublish     Step = "publish"
	StepReceive     Step = "receive"
)

// Class returns the failure class a step maps to.
func (s Step) Class() error {
	switch s {
	case StepConnect:
		return ErrConnection
	case StepSession:
		return ErrSession
	case StepDestination, StepProducer, StepConsumer:
		return ErrDestination
	case StepPublish:
		return ErrPublish
	default:
		return ErrReceive
	}
}

// BrokerError is a failure of one broker step for one destination.
type BrokerError struct {
	Step        Step
	Destination DestinationSpec
	Err         error
}

// NewBrokerError wraps err as a failure of step against spec.
func NewBrokerError(step Step, spec DestinationSpec, err error) *BrokerError {
	return &BrokerError{Step: step, Destination: spec, Err: err}
}

func (e *BrokerError) Error() string {
	var what string
	switch e.Step {
	case StepConnect:
		what = "Failed to create connection"
	case StepSession:
		what = "Failed to create session"
	case StepDestination:
		what = fmt.Sprintf("Failed to create %s %q", kindNoun(e.Destination.Kind), e.Destination.DestinationName)
	case StepProducer:
		what = "Failed to create producer"
	case StepConsumer:
		what = "Failed to create consumer"
	case StepPublish:
		what = "Failed to publish message"
	default:
		what = "Failed to receive message"
	}
	return fmt.Sprintf("%s: %v", what, e.Err)
}

// Unwrap exposes both the failure class and the underlying cause.
func (e *BrokerError) Unwrap() []error {
	return []error{e.Step.Class(), e.Err}
}

func kindNoun(k Kind) string {
	if k == KindTopic {
		return "topic"
	}
	return "queue"
}
