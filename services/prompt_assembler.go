package services

import (
	"chatbot/config"
	"chatbot/models"
	"sort"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	contextSeparator = "\n\n"
	// これより短い切れ端は文脈に入れない
	minTruncatedChars = 80
)

// Prompt is the assembled completion prompt plus the documents it was built from.
type Prompt struct {
	Text      string
	Question  string
	Version   string
	Documents []models.RetrievedDocument
	Included  int
}

// PromptAssembler renders the persona template. Lengths are counted in runes
// and the rendered prompt never exceeds maxChars.
type PromptAssembler struct {
	prompts  *config.PromptTemplate
	tmpl     *template.Template
	maxChars int
	fixedLen int
}

type answerTemplateData struct {
	Persona  string
	Clauses  []string
	Context  string
	Question string
}

func NewPromptAssembler(prompts *config.PromptTemplate, maxChars int) (*PromptAssembler, error) {
	tmpl, err := template.New("answer").Parse(prompts.Answer)
	if err != nil {
		return nil, errors.Wrapf(err, "parse answer template %s", prompts.Version)
	}
	a := &PromptAssembler{prompts: prompts, tmpl: tmpl, maxChars: maxChars}

	fixed, err := a.render("", "")
	if err != nil {
		return nil, err
	}
	a.fixedLen = utf8.RuneCountInString(fixed)
	if a.fixedLen+utf8.RuneCountInString(prompts.EmptyContext) >= maxChars {
		return nil, errors.Errorf("prompt template %s does not fit in %d characters", prompts.Version, maxChars)
	}
	return a, nil
}

// Assemble builds the prompt for question from docs, which must be in
// retrieval order. When the budget is short, higher scored documents win and
// the last one taken may be cut.
func (a *PromptAssembler) Assemble(question string, docs []models.RetrievedDocument) (Prompt, error) {
	emptyLen := utf8.RuneCountInString(a.prompts.EmptyContext)
	q := truncateRunes(strings.TrimSpace(question), a.maxChars-a.fixedLen-emptyLen)

	avail := a.maxChars - a.fixedLen - utf8.RuneCountInString(q)
	contextText, included := buildContext(docs, avail)
	if included == 0 {
		contextText = a.prompts.EmptyContext
	}

	text, err := a.render(contextText, q)
	if err != nil {
		return Prompt{}, err
	}
	if utf8.RuneCountInString(text) > a.maxChars {
		text = truncateRunes(text, a.maxChars)
	}

	return Prompt{
		Text:      text,
		Question:  q,
		Version:   a.prompts.Version,
		Documents: docs,
		Included:  included,
	}, nil
}

func (a *PromptAssembler) render(contextText, question string) (string, error) {
	var b strings.Builder
	err := a.tmpl.Execute(&b, answerTemplateData{
		Persona:  strings.TrimSpace(a.prompts.Persona),
		Clauses:  a.prompts.ClauseTexts(),
		Context:  contextText,
		Question: question,
	})
	if err != nil {
		return "", errors.Wrapf(err, "render answer template %s", a.prompts.Version)
	}
	return b.String(), nil
}

func buildContext(docs []models.RetrievedDocument, avail int) (string, int) {
	if avail <= 0 || len(docs) == 0 {
		return "", 0
	}

	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return docs[order[i]].Score > docs[order[j]].Score
	})

	parts := make(map[int]string, len(docs))
	remaining := avail
	for _, idx := range order {
		content := strings.TrimSpace(docs[idx].Content)
		if content == "" {
			continue
		}
		cost := utf8.RuneCountInString(content)
		if len(parts) > 0 {
			cost += len(contextSeparator)
		}
		if cost <= remaining {
			parts[idx] = content
			remaining -= cost
			continue
		}
		room := remaining
		if len(parts) > 0 {
			room -= len(contextSeparator)
		}
		if room >= minTruncatedChars {
			parts[idx] = truncateRunes(content, room)
			break
		}
	}

	out := make([]string, 0, len(parts))
	for i := range docs {
		if p, ok := parts[i]; ok {
			out = append(out, p)
		}
	}
	return strings.Join(out, contextSeparator), len(out)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
