package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const SignatureHeader = "X-Records-Signature"

// RetryPolicy bounds automatic redelivery of one message. Zero retries means
// a single delivery attempt.
type RetryPolicy struct {
	Retries int
}

// Message is a callback addressed to a path of this service.
type Message struct {
	Path string          `json:"path"`
	Body json.RawMessage `json:"body"`
}

// Publisher hands a message to the queue. A nil error means the queue has
// accepted it, not that it was delivered.
type Publisher interface {
	Publish(ctx context.Context, path string, body any, policy RetryPolicy) error
}

// PublishError wraps a failure to enqueue a message.
type PublishError struct {
	Path string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish to %s: %v", e.Path, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PermanentError marks a delivery the receiver rejected; it is never retried.
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("delivery rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

func newMessage(path string, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, &PublishError{Path: path, Err: err}
	}
	return Message{Path: path, Body: raw}, nil
}
