package outbound

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Kind identifies why an automated message is being sent.
type Kind string

const (
	KindReply        Kind = "reply"
	KindOpener       Kind = "opener"
	KindFallback     Kind = "fallback"
	KindReengagement Kind = "reengagement"
)

// TemplateData is available to every message template.
type TemplateData struct {
	FirstName        string
	OrganizationName string
	AssigneeName     string
}

type templateFile struct {
	Opener       string `yaml:"opener"`
	Fallback     string `yaml:"fallback"`
	Reengagement string `yaml:"reengagement"`
	EmailSubject string `yaml:"email_subject"`
}

var defaultTemplates = templateFile{
	Opener:       "Hi{{if .FirstName}} {{.FirstName}}{{end}}, thanks for reaching out to {{or .OrganizationName \"us\"}}! What are you looking for?",
	Fallback:     "Hi{{if .FirstName}} {{.FirstName}}{{end}}, just letting you know {{or .AssigneeName \"a member of our team\"}} has your message and will be in touch shortly.",
	Reengagement: "Hi{{if .FirstName}} {{.FirstName}}{{end}}, sorry for the wait! I can help you in the meantime. Are you still looking?",
	EmailSubject: "A message from {{or .OrganizationName \"our team\"}}",
}

// Templates renders lead-facing automated messages.
type Templates struct {
	byKind  map[Kind]*template.Template
	subject *template.Template
}

// LoadTemplates reads overrides from a YAML file. An empty path, or empty
// entries in the file, fall back to built-in defaults.
func LoadTemplates(path string) (*Templates, error) {
	file := defaultTemplates
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read message templates: %w", err)
		}
		var overrides templateFile
		if err := yaml.Unmarshal(raw, &overrides); err != nil {
			return nil, fmt.Errorf("parse message templates: %w", err)
		}
		file = mergeTemplates(file, overrides)
	}
	return compileTemplates(file)
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() *Templates {
	t, err := compileTemplates(defaultTemplates)
	if err != nil {
		panic(err)
	}
	return t
}

// Render renders the template for kind. KindReply has no template.
func (t *Templates) Render(kind Kind, data TemplateData) (string, error) {
	tmpl, ok := t.byKind[kind]
	if !ok {
		return "", fmt.Errorf("no template for %q messages", kind)
	}
	return execute(tmpl, data)
}

// Subject renders the email subject line.
func (t *Templates) Subject(data TemplateData) string {
	s, err := execute(t.subject, data)
	if err != nil || s == "" {
		return "A message for you"
	}
	return s
}

func compileTemplates(file templateFile) (*Templates, error) {
	sources := map[Kind]string{
		KindOpener:       file.Opener,
		KindFallback:     file.Fallback,
		KindReengagement: file.Reengagement,
	}
	t := &Templates{byKind: make(map[Kind]*template.Template, len(sources))}
	for kind, src := range sources {
		tmpl, err := template.New(string(kind)).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("compile %s template: %w", kind, err)
		}
		t.byKind[kind] = tmpl
	}
	subject, err := template.New("email_subject").Parse(file.EmailSubject)
	if err != nil {
		return nil, fmt.Errorf("compile email subject template: %w", err)
	}
	t.subject = subject
	return t, nil
}

func mergeTemplates(base, overrides templateFile) templateFile {
	pick := func(def, override string) string {
		if strings.TrimSpace(override) != "" {
			return override
		}
		return def
	}
	return templateFile{
		Opener:       pick(base.Opener, overrides.Opener),
		Fallback:     pick(base.Fallback, overrides.Fallback),
		Reengagement: pick(base.Reengagement, overrides.Reengagement),
		EmailSubject: pick(base.EmailSubject, overrides.EmailSubject),
	}
}

func execute(tmpl *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
