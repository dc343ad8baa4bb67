package services

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrRetrievalUnavailable  = errors.New("retrieval unavailable")
	ErrCondensationDegraded  = errors.New("condensation degraded")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrGenerationTimeout     = errors.New("generation timeout")
	ErrStreamInterrupted     = errors.New("stream interrupted")
	ErrInvalidQuery          = errors.New("invalid query")
)

// FailureMessage はユーザーに返す汎用エラーメッセージ（内部の詳細は含めない）
const FailureMessage = "申し訳ありません。ただいま回答を生成できませんでした。時間をおいて再度お試しいただくか、お問い合わせフォームからご連絡ください。"

// wrapKind attaches a sentinel to cause so callers can match with errors.Is
// while the original error text stays in the chain.
func wrapKind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &kindError{kind: kind, cause: cause}
}

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return fmt.Sprintf("%v: %v", e.kind, e.cause) }

func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

// ErrorKind maps a pipeline error to the snake_case kind used in logs and
// stream error events.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStreamInterrupted):
		return "stream_interrupted"
	case errors.Is(err, ErrRetrievalUnavailable):
		return "retrieval_unavailable"
	case errors.Is(err, ErrGenerationTimeout):
		return "generation_timeout"
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation_unavailable"
	case errors.Is(err, ErrCondensationDegraded):
		return "condensation_degraded"
	case errors.Is(err, ErrInvalidQuery):
		return "invalid_query"
	default:
		return "internal"
	}
}

// PipelineError is returned by the orchestrator when an invocation ends in
// the Failed state.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func (e *PipelineError) Kind() string { return ErrorKind(e.Err) }

func (e *PipelineError) SafeMessage() string { return FailureMessage }
