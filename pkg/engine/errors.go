package engine

import (
	"errors"
	"fmt"

	"github.com/roboricindustries/raycon-chatsync/pkg/message"
)

var (
	ErrTransport     = errors.New("chatsync: transport failure")
	ErrPersistence   = errors.New("chatsync: persistence failure")
	ErrTranslation   = errors.New("chatsync: translation failure")
	ErrClosed        = errors.New("chatsync: engine closed")
	ErrNotFound      = errors.New("chatsync: message not found")
	ErrNotRetryable  = errors.New("chatsync: message is not retryable")
	ErrEmptyMessage  = errors.New("chatsync: empty message")
	ErrInvalidConfig = errors.New("chatsync: invalid config")
)

// SendError reports a failed leg of a send. errors.Is matches it against
// ErrTransport or ErrPersistence depending on Failure.
type SendError struct {
	TempID  string
	Failure message.Failure
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %s failure: %v", e.TempID, e.Failure, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool {
	switch e.Failure {
	case message.FailureTransport:
		return target == ErrTransport
	case message.FailurePersistence:
		return target == ErrPersistence
	}
	return false
}
