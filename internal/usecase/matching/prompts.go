package matching

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompt is one stage's instructions. User is a text/template rendered with
// the stage's input.
type Prompt struct {
	Temperature float32 `yaml:"temperature"`
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`

	tmpl *template.Template
}

type Prompts struct {
	Integrate Prompt `yaml:"integrate"`
	Tag       Prompt `yaml:"tag"`
	Recommend Prompt `yaml:"recommend"`
}

// LoadPrompts parses the catalog at path, or the built-in one when path is empty.
func LoadPrompts(path string) (*Prompts, error) {
	raw := defaultPrompts
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt catalog: %w", err)
		}
	}
	return ParsePrompts(raw)
}

// DefaultPrompts returns the built-in catalog. It panics if the embedded file
// is broken, which only a bad build can cause.
func DefaultPrompts() *Prompts {
	p, err := ParsePrompts(defaultPrompts)
	if err != nil {
		panic(err)
	}
	return p
}

func ParsePrompts(raw []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}

	var errs []error
	for name, prompt := range map[string]*Prompt{
		"integrate": &p.Integrate,
		"tag":       &p.Tag,
		"recommend": &p.Recommend,
	} {
		if prompt.System == "" || prompt.User == "" {
			errs = append(errs, fmt.Errorf("prompt %q needs both system and user text", name))
			continue
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(prompt.User)
		if err != nil {
			errs = append(errs, fmt.Errorf("prompt %q: %w", name, err))
			continue
		}
		prompt.tmpl = tmpl
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Prompt) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
