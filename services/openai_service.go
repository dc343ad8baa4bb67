package services

import (
	"chatbot/logger"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// OpenAIService implements Completer and Embedder. The client is shared and
// safe for concurrent use; model and temperature never change per call.
type OpenAIService struct {
	client      *openai.Client
	model       string
	temperature float32
	log         *logger.Logger
}

func NewOpenAIService(opts OpenAIOptions, log *logger.Logger) (*OpenAIService, error) {
	if opts.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OpenAIService{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		log:         log.With("service", "OpenAIService", "model", opts.Model),
	}, nil
}

func (s *OpenAIService) request(prompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		Stream:      stream,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
}

func (s *OpenAIService) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, s.request(prompt, false))
	if err != nil {
		return "", classifyGenerationError(ctx, errors.Wrap(err, "openai chat completion"))
	}
	if len(resp.Choices) == 0 {
		return "", wrapKind(ErrGenerationUnavailable, errors.New("openai returned no choices"))
	}
	s.log.Debug("completion finished",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

func (s *OpenAIService) CompleteStream(ctx context.Context, prompt string) (TokenStream, error) {
	stream, err := s.client.CreateChatCompletionStream(ctx, s.request(prompt, true))
	if err != nil {
		return nil, classifyGenerationError(ctx, errors.Wrap(err, "openai chat completion stream"))
	}
	return &openAITokenStream{stream: stream}, nil
}

type openAITokenStream struct {
	stream   *openai.ChatCompletionStream
	finished bool
}

func (t *openAITokenStream) Recv() (string, error) {
	resp, err := t.stream.Recv()
	if errors.Is(err, io.EOF) {
		// finish_reasonなしでEOFになった場合は接続が切れたとみなす
		if !t.finished {
			return "", io.ErrUnexpectedEOF
		}
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, choice := range resp.Choices {
		b.WriteString(choice.Delta.Content)
		if choice.FinishReason != "" {
			t.finished = true
		}
	}
	return b.String(), nil
}

func (t *openAITokenStream) Close() error {
	t.stream.Close()
	return nil
}

// Embed はテキストをベクトル化する
func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *OpenAIService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.AdaEmbeddingV2,
	})
	if err != nil {
		return nil, errors.Wrap(err, "embedding creation failed")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, errors.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
