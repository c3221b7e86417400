package campaign

import "fmt"

// ValidationError reports a malformed request; nothing was persisted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("campaign %s not found", e.ID) }

func invalid(field, msg string) error { return &ValidationError{Field: field, Msg: msg} }
