package services

import (
	"chatbot/models"
	"context"
	"time"

	"github.com/pkg/errors"
)

// Generator calls the completion capability with an assembled prompt and
// attaches the top document's link to the result.
type Generator struct {
	completer Completer
	timeout   time.Duration
}

func NewGenerator(completer Completer, timeout time.Duration) *Generator {
	return &Generator{completer: completer, timeout: timeout}
}

func (g *Generator) Generate(ctx context.Context, prompt Prompt) (*models.Answer, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	text, err := g.completer.Complete(ctx, prompt.Text)
	if err != nil {
		return nil, classifyGenerationError(ctx, err)
	}
	return &models.Answer{
		Text:      text,
		Source:    TopSource(prompt.Documents),
		Documents: prompt.Documents,
	}, nil
}

// Stream starts a streamed completion. The returned stream owns the deadline;
// callers must Close it.
func (g *Generator) Stream(ctx context.Context, prompt Prompt) (*AnswerStream, error) {
	ctx, cancel := g.withTimeout(ctx)

	tokens, err := g.completer.CompleteStream(ctx, prompt.Text)
	if err != nil {
		err = classifyGenerationError(ctx, err)
		cancel()
		return nil, err
	}
	return newAnswerStream(ctx, cancel, tokens, prompt.Documents), nil
}

func (g *Generator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// TopSource returns the link of the highest scored document that has one.
func TopSource(docs []models.RetrievedDocument) *models.Source {
	var best *models.RetrievedDocument
	for i := range docs {
		if docs[i].URL() == "" {
			continue
		}
		if best == nil || docs[i].Score > best.Score {
			best = &docs[i]
		}
	}
	if best == nil {
		return nil
	}
	src := &models.Source{URL: best.URL()}
	if title := best.Title(); title != "" {
		src.Title = &title
	}
	return src
}

func classifyGenerationError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrGenerationTimeout), errors.Is(err, ErrGenerationUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return wrapKind(ErrGenerationTimeout, err)
	default:
		return wrapKind(ErrGenerationUnavailable, err)
	}
}
