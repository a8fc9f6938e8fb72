// Package apperr defines the error kinds shared by the pipelines and the
// batch orchestrator.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoAudio is returned when a video has no audio stream. It is not a failure.
	ErrNoAudio = errors.New("no audio stream")

	// ErrNothingToReconstruct means a video produced neither frames nor transcript.
	ErrNothingToReconstruct = errors.New("no frames and no transcript to reconstruct from")

	// ErrUnsupportedMedia is returned for files that are neither video nor image.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// ClientError is a failure of an external inference or transcription service.
type ClientError struct {
	Service   string
	Op        string
	Retryable bool
	Attempts  int
	Err       error
}

func (e *ClientError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg
}

func (e *ClientError) Unwrap() error { return e.Err }

// MediaError is a failure to read or decode a media file. It is never retried.
type MediaError struct {
	Path string
	Op   string
	Err  error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// AggregationError means the batch report could not be persisted.
type AggregationError struct {
	Path string
	Err  error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("write report %s: %v", e.Path, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// Client wraps err as a retryable ClientError.
func Client(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ClientError{Service: service, Op: op, Retryable: true, Err: err}
}

// Permanent wraps err as a ClientError that must not be retried.
func Permanent(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ClientError{Service: service, Op: op, Err: err}
}

// Media wraps err as a MediaError for path.
func Media(path, op string, err error) error {
	if err == nil {
		return nil
	}
	return &MediaError{Path: path, Op: op, Err: err}
}

// IsRetryable reports whether err is a ClientError worth retrying.
func IsRetryable(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// IsMedia reports whether err is a MediaError.
func IsMedia(err error) bool {
	var me *MediaError
	return errors.As(err, &me)
}

// IsAggregation reports whether err is an AggregationError.
func IsAggregation(err error) bool {
	var ae *AggregationError
	return errors.As(err, &ae)
}
