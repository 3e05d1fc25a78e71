package outbound

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplatesRender(t *testing.T) {
	tmpl := DefaultTemplates()

	text, err := tmpl.Render(KindFallback, TemplateData{FirstName: "Ada", AssigneeName: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, just letting you know Grace has your message and will be in touch shortly.", text)

	text, err = tmpl.Render(KindReengagement, TemplateData{})
	require.NoError(t, err)
	assert.Contains(t, text, "Hi, sorry for the wait!")

	_, err = tmpl.Render(KindReply, TemplateData{})
	assert.Error(t, err)

	assert.Equal(t, "A message from Acme", tmpl.Subject(TemplateData{OrganizationName: "Acme"}))
}

func TestLoadTemplatesMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback: \"Hang tight {{.FirstName}}!\"\n"), 0o600))

	tmpl, err := LoadTemplates(path)
	require.NoError(t, err)

	text, err := tmpl.Render(KindFallback, TemplateData{FirstName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hang tight Ada!", text)

	opener, err := tmpl.Render(KindOpener, TemplateData{FirstName: "Ada"})
	require.NoError(t, err)
	assert.Contains(t, opener, "thanks for reaching out to us")
}

func TestLoadTemplatesRejectsBrokenTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.yaml")
	require.NoError(t, os.WriteFile(path, []byte("opener: \"{{.FirstName\"\n"), 0o600))

	_, err := LoadTemplates(path)
	assert.Error(t, err)
}
