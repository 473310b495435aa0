// Package transport defines the outbound chat channel the engine sends through.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// TemplateRef names a channel-approved template and its positional variables.
type TemplateRef struct {
	Name      string
	Language  string
	Variables []string
}

// OutboundMessage is either free text (Body) or a template send.
type OutboundMessage struct {
	To       string
	Body     string
	Template *TemplateRef
}

// Gateway delivers one message and returns the channel's delivery id.
type Gateway interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}

// SendError carries the provider status and whether another attempt could succeed.
type SendError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("send failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient delivery failure. Context
// deadlines count as retryable; callers still never retry inline.
func IsRetryable(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}
