package services

import (
	"chatbot/models"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// AnswerStream is a lazy, finite, non-restartable sequence of answer chunks.
//
// Recv returns chunks until io.EOF on success. Any other error is terminal
// and is repeated on later calls. If chunks were already delivered the error
// also matches ErrStreamInterrupted.
type AnswerStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	tokens TokenStream
	docs   []models.RetrievedDocument
	source *models.Source

	text   strings.Builder
	chunks int
	done   bool
	err    error

	closeOnce sync.Once
	onFinish  []func(*AnswerStream)
}

func newAnswerStream(ctx context.Context, cancel context.CancelFunc, tokens TokenStream, docs []models.RetrievedDocument) *AnswerStream {
	return &AnswerStream{
		ctx:    ctx,
		cancel: cancel,
		tokens: tokens,
		docs:   docs,
		source: TopSource(docs),
	}
}

func (s *AnswerStream) Recv() (string, error) {
	if s.done {
		return "", s.err
	}
	for {
		// キャンセルはチャンクの間でのみ確認する
		if err := s.ctx.Err(); err != nil {
			s.finish(s.streamError(err))
			return "", s.err
		}
		chunk, err := s.tokens.Recv()
		if errors.Is(err, io.EOF) {
			s.finish(io.EOF)
			return "", s.err
		}
		if err != nil {
			s.finish(s.streamError(err))
			return "", s.err
		}
		if chunk == "" {
			continue
		}
		s.chunks++
		s.text.WriteString(chunk)
		return chunk, nil
	}
}

func (s *AnswerStream) streamError(err error) error {
	if errors.Is(err, context.Canceled) && !errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
		// 呼び出し側のキャンセル（クライアント切断など）
		return err
	}
	err = classifyGenerationError(s.ctx, err)
	if s.chunks > 0 {
		return wrapKind(ErrStreamInterrupted, err)
	}
	return err
}

func (s *AnswerStream) finish(err error) {
	s.done = true
	s.err = err
	_ = s.Close()
	for _, fn := range s.onFinish {
		fn(s)
	}
}

// Err returns nil after a successful end of stream.
func (s *AnswerStream) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

func (s *AnswerStream) Done() bool { return s.done }

// Text returns the chunks received so far, concatenated.
func (s *AnswerStream) Text() string { return s.text.String() }

func (s *AnswerStream) Chunks() int { return s.chunks }

// Source is known before the first chunk but should only be shown once the
// stream completed.
func (s *AnswerStream) Source() *models.Source { return s.source }

// Answer returns the final answer. ok is false until the stream ended with io.EOF.
func (s *AnswerStream) Answer() (*models.Answer, bool) {
	if !s.done || !errors.Is(s.err, io.EOF) {
		return nil, false
	}
	return &models.Answer{
		Text:      s.text.String(),
		Source:    s.source,
		Documents: s.docs,
	}, true
}

// Close releases the model connection. Closing before the end of the stream
// ends it with context.Canceled. Safe to call more than once, but like Recv
// it must not be called concurrently.
func (s *AnswerStream) Close() error {
	if !s.done {
		s.finish(context.Canceled)
	}
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.tokens.Close()
	})
	return err
}

func (s *AnswerStream) addFinishHook(fn func(*AnswerStream)) {
	s.onFinish = append(s.onFinish, fn)
}
