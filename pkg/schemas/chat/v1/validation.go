package chat

import (
	"errors"
	"strings"
)

var (
	ErrInvalidContract = errors.New("invalid contract")
	ErrUnknownEvent    = errors.New("unknown event type")
)

type ValidationIssue struct{ Field, Reason string }

type ValidationError struct {
	Type   EventType
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInvalidContract.Error())
	if e.Type != "" {
		b.WriteString(" " + string(e.Type))
	}
	for i, is := range e.Issues {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(is.Field + " " + is.Reason)
	}
	return b.String()
}

func (e *ValidationError) add(f, r string) {
	e.Issues = append(e.Issues, ValidationIssue{Field: f, Reason: r})
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidContract }

func (e *ValidationError) err() error {
	if len(e.Issues) > 0 {
		return e
	}
	return nil
}

func (e *ValidationError) required(field, v string) {
	if strings.TrimSpace(v) == "" {
		e.add(field, "required")
	}
}
