package website

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flatstone/awsmgr/internal/logging"
)

// InjectPlaceholders rewrites index.html in the content directory, replacing
// ${Name} placeholders with the given values. Used after a messaging deploy
// to wire the contact form to the new API endpoint before uploading.
func InjectPlaceholders(dir string, values map[string]string) error {
	contentDir, err := ResolveContentDir(dir)
	if err != nil {
		return err
	}

	path := filepath.Join(contentDir, "index.html")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("index.html not found in %q: %w", contentDir, err)
	}

	content := string(data)
	for name, value := range values {
		placeholder := "${" + name + "}"
		if !strings.Contains(content, placeholder) {
			logging.Warnf("placeholder %s not found in %s", placeholder, path)
			continue
		}
		content = strings.ReplaceAll(content, placeholder, value)
		logging.Infof("replaced %s in %s", placeholder, path)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}
