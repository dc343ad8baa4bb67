package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewWithCore(core)

	log.Info("calling provider", "api_key", "sk-123", "site_id", "s1", "Authorization", "Bearer x")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "[REDACTED]", fields["api_key"])
		assert.Equal(t, "[REDACTED]", fields["Authorization"])
		assert.Equal(t, "s1", fields["site_id"])
	}
}

func TestWithKeepsFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewWithCore(core).With("component", "test")

	log.Warn("hello")

	assert.Equal(t, "test", logs.All()[0].ContextMap()["component"])
}

func TestLoggerKeepsTokenCounters(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := NewWithCore(core)

	log.Info("completion finished",
		"prompt_tokens", 120,
		"completion_tokens", 40,
		"access_token", "abc",
		"token", "xyz",
	)

	fields := logs.All()[0].ContextMap()
	assert.EqualValues(t, 120, fields["prompt_tokens"])
	assert.EqualValues(t, 40, fields["completion_tokens"])
	assert.Equal(t, "[REDACTED]", fields["access_token"])
	assert.Equal(t, "[REDACTED]", fields["token"])
}
