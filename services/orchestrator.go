package services

import (
	"chatbot/logger"
	"chatbot/models"
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Stage is the position of one invocation in the answer pipeline.
type Stage string

const (
	StageStart      Stage = "start"
	StageCondensing Stage = "condensing"
	StageRetrieving Stage = "retrieving"
	StageAssembling Stage = "assembling"
	StageGenerating Stage = "generating"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

var stageRank = map[Stage]int{
	StageStart:      0,
	StageCondensing: 1,
	StageRetrieving: 2,
	StageAssembling: 3,
	StageGenerating: 4,
	StageComplete:   5,
	StageFailed:     5,
}

func (s Stage) Terminal() bool { return s == StageComplete || s == StageFailed }

// Request is one question inside a conversation.
type Request struct {
	SessionID string
	SiteID    string
	History   []models.ChatTurn
	Question  string
}

// Orchestrator runs condense → retrieve → assemble → generate for each
// question. It holds no per-conversation state.
type Orchestrator struct {
	condenser *Condenser
	retriever *Retriever
	assembler *PromptAssembler
	generator *Generator
	topK      int
	log       *logger.Logger
}

func NewOrchestrator(
	condenser *Condenser,
	retriever *Retriever,
	assembler *PromptAssembler,
	generator *Generator,
	topK int,
	log *logger.Logger,
) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		condenser: condenser,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		topK:      topK,
		log:       log.With("component", "Orchestrator"),
	}
}

// NewSessionID mints the identifier of a new conversation.
func NewSessionID() string {
	return uuid.NewString()
}

// EnsureSession fills in a session id for requests that start a conversation.
func (o *Orchestrator) EnsureSession(req *Request) string {
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = NewSessionID()
	}
	return req.SessionID
}

// Answer runs the pipeline and blocks until the full answer is available.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*models.Answer, error) {
	inv := o.start(&req)

	prompt, err := o.prepare(ctx, req, inv)
	if err != nil {
		return nil, inv.fail(err)
	}

	inv.advance(StageGenerating)
	answer, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, inv.fail(err)
	}
	inv.complete(answer.Source, 0)
	return answer, nil
}

// AnswerStream runs the pipeline up to generation and returns the chunk
// stream. The invocation completes or fails when the stream ends.
func (o *Orchestrator) AnswerStream(ctx context.Context, req Request) (*AnswerStream, error) {
	inv := o.start(&req)

	prompt, err := o.prepare(ctx, req, inv)
	if err != nil {
		return nil, inv.fail(err)
	}

	inv.advance(StageGenerating)
	stream, err := o.generator.Stream(ctx, prompt)
	if err != nil {
		return nil, inv.fail(err)
	}
	stream.addFinishHook(func(s *AnswerStream) {
		if err := s.Err(); err != nil {
			_ = inv.fail(err)
			return
		}
		inv.complete(s.Source(), s.Chunks())
	})
	return stream, nil
}

func (o *Orchestrator) start(req *Request) *invocation {
	o.EnsureSession(req)
	return &invocation{
		stage:   StageStart,
		started: time.Now(),
		log:     o.log.With("session_id", req.SessionID, "site_id", req.SiteID),
	}
}

func (o *Orchestrator) prepare(ctx context.Context, req Request, inv *invocation) (Prompt, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Prompt{}, errors.Wrap(ErrInvalidQuery, "question is empty")
	}

	inv.advance(StageCondensing)
	question, err := o.condenser.Condense(ctx, req.History, req.Question)
	if err != nil {
		// 言い換えに失敗しても元の質問で続行する
		inv.log.Warn("condensation degraded, using original question",
			"error_kind", ErrorKind(err),
			"error", err,
		)
	}
	inv.log.Debug("standalone question", "question", question, "history_turns", len(req.History))

	inv.advance(StageRetrieving)
	docs, err := o.retriever.Retrieve(ctx, question, req.SiteID, o.topK)
	if err != nil {
		return Prompt{}, err
	}
	if len(docs) == 0 {
		inv.log.Info("no documents above relevance threshold")
	}

	inv.advance(StageAssembling)
	prompt, err := o.assembler.Assemble(question, docs)
	if err != nil {
		return Prompt{}, err
	}
	inv.log.Debug("prompt assembled",
		"prompt_version", prompt.Version,
		"prompt_chars", len([]rune(prompt.Text)),
		"documents", len(docs),
		"included", prompt.Included,
	)
	return prompt, nil
}

type invocation struct {
	stage   Stage
	started time.Time
	log     *logger.Logger
}

// advance moves forward only. Backward or post-terminal moves are ignored.
func (inv *invocation) advance(next Stage) bool {
	if inv.stage.Terminal() || stageRank[next] <= stageRank[inv.stage] {
		inv.log.Error("invalid pipeline transition", "from", string(inv.stage), "to", string(next))
		return false
	}
	inv.stage = next
	return true
}

func (inv *invocation) fail(err error) error {
	stage := inv.stage
	if stage.Terminal() {
		return err
	}
	inv.advance(StageFailed)
	kind := ErrorKind(err)
	if errors.Is(err, context.Canceled) {
		inv.log.Info("answer canceled by caller", "stage", string(stage))
		return &PipelineError{Stage: stage, Err: err}
	}
	inv.log.Error("answer failed",
		"stage", string(stage),
		"error_kind", kind,
		"error", err.Error(),
		"elapsed", time.Since(inv.started),
	)
	return &PipelineError{Stage: stage, Err: err}
}

func (inv *invocation) complete(source *models.Source, chunks int) {
	if !inv.advance(StageComplete) {
		return
	}
	sourceURL := ""
	if source != nil {
		sourceURL = source.URL
	}
	inv.log.Info("answer complete",
		"source_url", sourceURL,
		"chunks", chunks,
		"elapsed", time.Since(inv.started),
	)
}
