package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("HOMEUS_TEST_SET", "from-env")
	t.Setenv("HOMEUS_TEST_EMPTY", "")

	assert.Equal(t, "a from-env b", ExpandEnv("a ${HOMEUS_TEST_SET} b"))
	assert.Equal(t, "from-env", ExpandEnv("${HOMEUS_TEST_SET:fallback}"))
	assert.Equal(t, "fallback", ExpandEnv("${HOMEUS_TEST_EMPTY:fallback}"))
	assert.Equal(t, "fallback:with:colons", ExpandEnv("${HOMEUS_TEST_UNSET_VAR:fallback:with:colons}"))
	assert.Equal(t, "", ExpandEnv("${HOMEUS_TEST_UNSET_VAR}"))
	assert.Equal(t, "$HOME stays", ExpandEnv("$HOME stays"))
}

func TestLoad_DefaultsAndSiteFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOMEUS_TEST_DB", filepath.Join(dir, "test.db"))

	writeFile(t, filepath.Join(dir, "config.yaml"), `
scraping:
  max_pages: 3
  page_delay: 500ms
database:
  path: ${HOMEUS_TEST_DB}
websites:
  ss:
    base_url: https://ss.ge
    id_pattern: '/udzravi-qoneba/[^/]+-(\d+)'
    search_urls:
      - name: sale
        url: https://ss.ge/ka/udzravi-qoneba/l/bina/iyideba
`)
	writeFile(t, filepath.Join(dir, "sites", "myhome.yaml"), `
name: MyHome.ge
base_url: https://www.myhome.ge
search_urls:
  - name: sale
    url: https://www.myhome.ge/s/
`)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Scraping.MaxPages)
	assert.Equal(t, 500*time.Millisecond, cfg.Scraping.PageDelay)
	assert.Equal(t, 30*time.Minute, cfg.Scraping.Interval())
	assert.Equal(t, 30*time.Second, cfg.Scraping.RequestTimeout)
	assert.Equal(t, 14*24*time.Hour, cfg.Scraping.StaleAfter)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "test.db"), cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.Equal(t, []string{"myhome", "ss"}, cfg.SiteIDs())
	ss := cfg.Sites["ss"]
	assert.Equal(t, "ss", ss.ID)
	assert.Equal(t, "html", ss.Handler)
	assert.Equal(t, "ss", ss.Profile)
	assert.Equal(t, "page", ss.PageParam)

	myhome := cfg.Sites["myhome"]
	assert.Equal(t, "MyHome.ge", myhome.Name)
	assert.Equal(t, "myhome", myhome.Profile)
}

func TestLoad_Validation(t *testing.T) {
	tests := map[string]string{
		"no sites": `
database:
  driver: sqlite
`,
		"no search urls": `
websites:
  ss:
    base_url: https://ss.ge
`,
		"postgres without url": `
database:
  driver: postgres
websites:
  ss:
    search_urls: [{name: a, url: "https://ss.ge"}]
`,
		"bad id pattern": `
websites:
  ss:
    id_pattern: '(\d+'
    search_urls: [{name: a, url: "https://ss.ge"}]
`,
		"sheets without id": `
mirror:
  google_sheets:
    enabled: true
websites:
  ss:
    search_urls: [{name: a, url: "https://ss.ge"}]
`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
