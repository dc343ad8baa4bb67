package services

import (
	"chatbot/config"
	"chatbot/models"
	"context"
	"strings"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

// Condenser rewrites a follow-up question into a standalone one using the
// conversation so far.
type Condenser struct {
	completer Completer
	tmpl      *template.Template
	timeout   time.Duration
}

func NewCondenser(completer Completer, prompts *config.PromptTemplate, timeout time.Duration) (*Condenser, error) {
	tmpl, err := template.New("condense").Parse(prompts.Condense)
	if err != nil {
		return nil, errors.Wrapf(err, "parse condense template %s", prompts.Version)
	}
	return &Condenser{completer: completer, tmpl: tmpl, timeout: timeout}, nil
}

// Condense returns the standalone question. With an empty history the
// follow-up is returned as is and the model is not called.
//
// On failure the follow-up is still returned, together with an error wrapping
// ErrCondensationDegraded. Callers should log it and carry on.
func (c *Condenser) Condense(ctx context.Context, history []models.ChatTurn, followUp string) (string, error) {
	if len(history) == 0 {
		return followUp, nil
	}

	var prompt strings.Builder
	if err := c.tmpl.Execute(&prompt, map[string]string{
		"History":  FormatHistory(history),
		"Question": followUp,
	}); err != nil {
		return followUp, wrapKind(ErrCondensationDegraded, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.completer.Complete(ctx, prompt.String())
	if err != nil {
		return followUp, wrapKind(ErrCondensationDegraded, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return followUp, wrapKind(ErrCondensationDegraded, errors.New("empty standalone question"))
	}
	return out, nil
}

// FormatHistory はChatHistoryをプロンプト用のテキストにする
func FormatHistory(history []models.ChatTurn) string {
	var b strings.Builder
	for _, turn := range history {
		switch turn.Role {
		case models.RoleAssistant:
			b.WriteString("アシスタント: ")
		default:
			b.WriteString("ユーザー: ")
		}
		b.WriteString(strings.TrimSpace(turn.Text))
		b.WriteString("\n")
	}
	return b.String()
}
