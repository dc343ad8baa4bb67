package config

import (
	_ "embed"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// ポリシー条項のID。どのバージョンのテンプレートにも全て含まれている必要がある
const (
	ClauseSameLanguage     = "same_language"
	ClauseStructuredFormat = "structured_format"
	ClauseNextAction       = "next_action"
	ClauseGrounded         = "grounded"
)

var RequiredClauses = []string{
	ClauseSameLanguage,
	ClauseStructuredFormat,
	ClauseNextAction,
	ClauseGrounded,
}

type PolicyClause struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// PromptTemplate is one versioned persona definition. Answer and Condense are
// text/template sources.
type PromptTemplate struct {
	Version      string         `yaml:"version"`
	Persona      string         `yaml:"persona"`
	Clauses      []PolicyClause `yaml:"clauses"`
	EmptyContext string         `yaml:"empty_context"`
	Answer       string         `yaml:"answer"`
	Condense     string         `yaml:"condense"`
}

type promptSet struct {
	Current  string           `yaml:"current"`
	Versions []PromptTemplate `yaml:"versions"`
}

// LoadPrompts returns the embedded template for version, or the current one
// when version is empty.
func LoadPrompts(version string) (*PromptTemplate, error) {
	return ParsePrompts(promptsYAML, version)
}

func ParsePrompts(data []byte, version string) (*PromptTemplate, error) {
	var set promptSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrap(err, "parse prompt templates")
	}
	if version == "" {
		version = set.Current
	}
	for i := range set.Versions {
		if set.Versions[i].Version != version {
			continue
		}
		tmpl := set.Versions[i]
		if err := tmpl.Validate(); err != nil {
			return nil, err
		}
		return &tmpl, nil
	}
	return nil, errors.Errorf("prompt template version %q not found", version)
}

func (p *PromptTemplate) Validate() error {
	seen := make(map[string]bool, len(p.Clauses))
	for _, c := range p.Clauses {
		if strings.TrimSpace(c.Text) == "" {
			return errors.Errorf("prompt %s: clause %q has no text", p.Version, c.ID)
		}
		seen[c.ID] = true
	}
	var missing []string
	for _, id := range RequiredClauses {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("prompt %s: missing required clauses %s", p.Version, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(p.Answer) == "" || strings.TrimSpace(p.Condense) == "" {
		return errors.Errorf("prompt %s: answer and condense templates are required", p.Version)
	}
	return nil
}

func (p *PromptTemplate) ClauseTexts() []string {
	out := make([]string, 0, len(p.Clauses))
	for _, c := range p.Clauses {
		out = append(out, strings.TrimSpace(c.Text))
	}
	return out
}

func (p *PromptTemplate) Clause(id string) string {
	for _, c := range p.Clauses {
		if c.ID == id {
			return strings.TrimSpace(c.Text)
		}
	}
	return ""
}
