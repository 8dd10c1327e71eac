package website

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexWithPlaceholders = `<html>
<body>
<form action="${ApiEndpoint}/contact" method="post">
  <input type="hidden" name="to" value="${EmailAddress}">
</form>
</body>
</html>`

func TestInjectPlaceholders(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir, "index.html", indexWithPlaceholders)

	err := InjectPlaceholders(dir, map[string]string{
		"ApiEndpoint":  "https://api.example.com/prod",
		"EmailAddress": "ops@example.com",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `action="https://api.example.com/prod/contact"`)
	assert.Contains(t, content, `value="ops@example.com"`)
	assert.NotContains(t, content, "${ApiEndpoint}")
	assert.NotContains(t, content, "${EmailAddress}")
}

func TestInjectPlaceholders_MissingPlaceholderIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir, "index.html", "<html><body>static</body></html>")

	err := InjectPlaceholders(dir, map[string]string{
		"ApiEndpoint": "https://api.example.com/prod",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html><body>static</body></html>", string(data))
}

func TestInjectPlaceholders_ContentSubdir(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir, "content/index.html", "<a href=\"${ApiEndpoint}\">api</a>")

	err := InjectPlaceholders(dir, map[string]string{
		"ApiEndpoint": "https://api.example.com/prod",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "content", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "https://api.example.com/prod")
}

func TestInjectPlaceholders_MissingIndex(t *testing.T) {
	err := InjectPlaceholders(t.TempDir(), map[string]string{"ApiEndpoint": "x"})
	assert.Error(t, err)
}
