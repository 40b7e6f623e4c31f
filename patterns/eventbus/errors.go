package eventbus

import (
	"errors"
	"fmt"
	"github.com/saylorsolutions/weakbus/weakref"
	"reflect"
)

var (
	ErrInvalidHandler = weakref.ErrInvalidHandler
	ErrPayloadMixture = errors.New("payload type mixture")
	ErrHandlerPanic   = errors.New("handler panicked")
	ErrInvalidOption  = errors.New("invalid bus option")
)

// PayloadMixtureError is returned when a subscription is rejected because the [Bus] enforces a single payload type per event,
// and the event already has a live subscription with a different payload type.
type PayloadMixtureError struct {
	Key      Key
	Existing reflect.Type
	Rejected reflect.Type
}

func (e *PayloadMixtureError) Error() string {
	return fmt.Sprintf("%s: event '%s' already has handlers for payload type '%s', cannot add handler for '%s'",
		ErrPayloadMixture, e.Key, e.Existing, e.Rejected)
}

func (e *PayloadMixtureError) Unwrap() error {
	return ErrPayloadMixture
}
