package services

import (
	"chatbot/logger"
	"chatbot/models"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type orchestratorFixture struct {
	orchestrator *Orchestrator
	condense     *fakeCompleter
	chat         *fakeCompleter
	store        *fakeVectorStore
	logs         *observer.ObservedLogs
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		condense: &fakeCompleter{answer: "プロプランの料金は？"},
		chat:     &fakeCompleter{chunks: []string{"月額", "1万円", "です。"}},
		store: &fakeVectorStore{docs: []models.RetrievedDocument{
			doc("1", "site-a", "https://a/pricing", "プロプランは月額1万円です。", 0.9),
		}},
	}
	var core zapcore.Core
	core, f.logs = observer.New(zap.DebugLevel)
	log := logger.NewWithCore(core)

	prompts := loadPrompts(t)
	condenser, err := NewCondenser(f.condense, prompts, time.Second)
	require.NoError(t, err)
	assembler, err := NewPromptAssembler(prompts, 8000)
	require.NoError(t, err)

	f.orchestrator = NewOrchestrator(
		condenser,
		NewRetriever(f.store, 0.75, log),
		assembler,
		NewGenerator(f.chat, time.Second),
		4,
		log,
	)
	return f
}

func TestAnswerHappyPath(t *testing.T) {
	f := newOrchestratorFixture(t)

	answer, err := f.orchestrator.Answer(context.Background(), Request{
		SessionID: "sess-1",
		SiteID:    "site-a",
		Question:  "料金を教えて",
	})
	require.NoError(t, err)
	assert.Equal(t, "月額1万円です。", answer.Text)
	require.NotNil(t, answer.Source)
	assert.Equal(t, "https://a/pricing", answer.Source.URL)

	// 履歴がないので言い換えは呼ばれない
	assert.Zero(t, f.condense.calls())
	assert.Equal(t, 1, f.logs.FilterMessage("answer complete").Len())
}

func TestAnswerRetrievalFailureIsLoggedWithContext(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.store.err = errors.New("dial tcp: connection refused")

	_, err := f.orchestrator.Answer(context.Background(), Request{
		SessionID: "sess-1",
		SiteID:    "site-a",
		Question:  "料金を教えて",
	})
	require.Error(t, err)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageRetrieving, pe.Stage)
	assert.Equal(t, "retrieval_unavailable", pe.Kind())
	assert.Equal(t, FailureMessage, pe.SafeMessage())
	assert.NotContains(t, pe.SafeMessage(), "connection refused")
	assert.Zero(t, f.chat.calls())

	entries := f.logs.FilterMessage("answer failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "retrieval_unavailable", fields["error_kind"])
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "site-a", fields["site_id"])
	assert.Equal(t, "retrieving", fields["stage"])
}

func TestAnswerWithNoDocumentsStillAnswers(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.store.docs = nil

	answer, err := f.orchestrator.Answer(context.Background(), Request{
		SiteID:   "site-a",
		Question: "採用情報はありますか？",
	})
	require.NoError(t, err)
	assert.Nil(t, answer.Source)

	prompts := loadPrompts(t)
	require.Equal(t, 1, f.chat.calls())
	assert.Contains(t, f.chat.prompts[0], prompts.EmptyContext)
	assert.Equal(t, 1, f.logs.FilterMessage("no documents above relevance threshold").Len())
}

func TestAnswerCondenseDegradedUsesOriginalQuestion(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.condense.err = errors.New("timeout")

	_, err := f.orchestrator.Answer(context.Background(), Request{
		SessionID: "sess-1",
		SiteID:    "site-a",
		History:   []models.ChatTurn{{Role: models.RoleUser, Text: "プロプランについて"}},
		Question:  "それはいくら？",
	})
	require.NoError(t, err)
	assert.Contains(t, f.chat.prompts[0], "それはいくら？")

	warn := f.logs.FilterMessage("condensation degraded, using original question").All()
	require.Len(t, warn, 1)
	assert.Equal(t, "condensation_degraded", warn[0].ContextMap()["error_kind"])
}

func TestAnswerUsesStandaloneQuestion(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orchestrator.Answer(context.Background(), Request{
		SessionID: "sess-1",
		SiteID:    "site-a",
		History:   []models.ChatTurn{{Role: models.RoleUser, Text: "プロプランについて"}},
		Question:  "それはいくら？",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.condense.calls())
	assert.Contains(t, f.chat.prompts[0], "プロプランの料金は？")
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orchestrator.Answer(context.Background(), Request{SiteID: "site-a", Question: "  "})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Zero(t, f.store.calls)
}

func TestAnswerStreamCompletes(t *testing.T) {
	f := newOrchestratorFixture(t)

	stream, err := f.orchestrator.AnswerStream(context.Background(), Request{
		SessionID: "sess-1",
		SiteID:    "site-a",
		Question:  "料金を教えて",
	})
	require.NoError(t, err)
	chunks := drain(t, stream)

	assert.Len(t, chunks, 3)
	answer, ok := stream.Answer()
	require.True(t, ok)
	assert.Equal(t, "https://a/pricing", answer.Source.URL)

	done := f.logs.FilterMessage("answer complete").All()
	require.Len(t, done, 1)
	assert.EqualValues(t, 3, done[0].ContextMap()["chunks"])
}

func TestAnswerStreamInterruptedIsLogged(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.chat.streamErr = io.ErrUnexpectedEOF

	stream, err := f.orchestrator.AnswerStream(context.Background(), Request{
		SessionID: "sess-1",
		SiteID:    "site-a",
		Question:  "料金を教えて",
	})
	require.NoError(t, err)
	assert.Len(t, drain(t, stream), 3)
	assert.ErrorIs(t, stream.Err(), ErrStreamInterrupted)

	failed := f.logs.FilterMessage("answer failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "stream_interrupted", failed[0].ContextMap()["error_kind"])
	assert.Equal(t, "generating", failed[0].ContextMap()["stage"])
	assert.Zero(t, f.logs.FilterMessage("answer complete").Len())
}

func TestAnswerAssignsSessionID(t *testing.T) {
	f := newOrchestratorFixture(t)

	req := Request{SiteID: "site-a", Question: "料金"}
	id := f.orchestrator.EnsureSession(&req)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, req.SessionID)

	// 既存のIDは変えない
	assert.Equal(t, id, f.orchestrator.EnsureSession(&req))
	assert.NotEqual(t, id, NewSessionID())
}

func TestConcurrentInvocationsAreIndependent(t *testing.T) {
	f := newOrchestratorFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orchestrator.Answer(context.Background(), Request{
				SiteID:   "site-a",
				Question: "料金を教えて",
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, len(errs), f.logs.FilterMessage("answer complete").Len())
}

func TestStageTransitionsOnlyMoveForward(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	inv := &invocation{stage: StageStart, started: time.Now(), log: logger.NewWithCore(core)}

	assert.True(t, inv.advance(StageCondensing))
	assert.True(t, inv.advance(StageRetrieving))
	assert.False(t, inv.advance(StageCondensing))
	assert.Equal(t, StageRetrieving, inv.stage)

	inv.complete(nil, 0)
	assert.Equal(t, StageComplete, inv.stage)
	assert.False(t, inv.advance(StageGenerating))
	assert.Equal(t, 2, logs.FilterMessage("invalid pipeline transition").Len())
}
