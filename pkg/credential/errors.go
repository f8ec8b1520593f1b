package credential

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// AuthorityError - the remote authority could not be reached or returned an unusable answer
type AuthorityError struct {
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *AuthorityError) Error() string {
	switch {
	case e.Err != nil && e.Code != 0:
		return fmt.Sprintf("authority %s: code %d %s: %v", e.Op, e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("authority %s: %v", e.Op, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("authority %s: code %d %s", e.Op, e.Code, e.Message)
	default:
		return fmt.Sprintf("authority %s: %s", e.Op, e.Message)
	}
}

func (e *AuthorityError) Unwrap() error { return e.Err }

func (e *AuthorityError) Cause() error { return e.Err }

// TicketTypeError - the authority refused the requested ticket type
type TicketTypeError struct {
	TicketType string
	Code       int
	Message    string
}

func (e *TicketTypeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ticket type %q rejected: code %d %s", e.TicketType, e.Code, e.Message)
	}
	return fmt.Sprintf("ticket type %q rejected: %s", e.TicketType, e.Message)
}

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("credential configuration: %s %s", e.Field, e.Reason)
}

// StoreError - the backing store failed; never used to report an absent credential
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("credential store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Cause() error { return e.Err }

func IsAuthorityError(err error) bool {
	var target *AuthorityError
	return errors.As(err, &target)
}

func IsTicketTypeError(err error) bool {
	var target *TicketTypeError
	return errors.As(err, &target)
}

func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsStoreError(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

// IsContextError reports cancellation or deadline of the caller's context
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
