package core

import (
	"errors"
	"fmt"
)

// Entity names used in error values.
const (
	EntityCollaborator = "collaborator"
	EntityAdmin        = "admin"
	EntityDataRequest  = "data request"
	EntityObject       = "object"
)

// ErrValidation is returned when a request is missing or carries an invalid
// field. It is raised before any load or save.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e ErrValidation) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ErrNotFound is returned when a lookup by index, email or key has no match.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e ErrNotFound) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// ErrForbidden is returned when the caller's role or ownership does not allow
// the action. Message, when set, is safe to show to the caller.
type ErrForbidden struct {
	Action  string
	Message string
}

func (e ErrForbidden) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Action == "" {
		return "forbidden"
	}
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrConflict is returned when a create would duplicate a unique key.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

// Kind classifies errors into the outward taxonomy.
type Kind string

// Error kinds.
const (
	KindNone       Kind = ""
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Classify maps err onto the taxonomy. Anything that is not one of the typed
// errors is internal.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		validation ErrValidation
		notFound   ErrNotFound
		forbidden  ErrForbidden
		conflict   ErrConflict
	)
	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &forbidden):
		return KindForbidden
	case errors.As(err, &conflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// PublicMessage returns a short caller-facing message for err. Internal
// errors never leak their text.
func PublicMessage(err error) string {
	var (
		validation ErrValidation
		notFound   ErrNotFound
		forbidden  ErrForbidden
		conflict   ErrConflict
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &forbidden):
		if forbidden.Message != "" {
			return forbidden.Message
		}
		return "Forbidden"
	case errors.As(err, &conflict):
		return conflict.Error()
	default:
		return "Internal server error"
	}
}
