package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"popoutchat/internal/config"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := filepath.Join(src, "transcripts.db")
	cfgPath := filepath.Join(src, "config.yaml")
	require.NoError(t, os.WriteFile(dbPath, []byte("sqlite bytes"), 0o644))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("wal"), 0o644))
	require.NoError(t, os.WriteFile(cfgPath, []byte("logLevel: debug\n"), 0o644))

	files := backupFiles(dbPath, cfgPath)
	assert.Len(t, files, 3)

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, createTarGz(archive, files))

	dst := t.TempDir()
	newDB := filepath.Join(dst, "data", "restored.db")
	newCfg := filepath.Join(dst, "config.yaml")
	restored, err := extractTarGz(archive, newDB, newCfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{newDB, newDB + "-wal", newCfg}, restored)

	data, err := os.ReadFile(newDB)
	require.NoError(t, err)
	assert.Equal(t, "sqlite bytes", string(data))
	data, err = os.ReadFile(newCfg)
	require.NoError(t, err)
	assert.Equal(t, "logLevel: debug\n", string(data))
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	bogus := filepath.Join(t.TempDir(), "bogus.tar.gz")
	require.NoError(t, os.WriteFile(bogus, []byte("plain text"), 0o644))
	_, err := extractTarGz(bogus, "x.db", "config.yaml")
	assert.Error(t, err)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2<<20))
}

func TestRunWizard(t *testing.T) {
	cfg := config.Defaults()
	in := strings.NewReader("https://n8n.example.com/webhook/abc\nsales\nAcme Bot\n\nmiddle\nleft\n")
	var out bytes.Buffer

	require.NoError(t, runWizard(in, &out, cfg))
	assert.Equal(t, "https://n8n.example.com/webhook/abc", cfg.Webhook.URL)
	assert.Equal(t, "sales", cfg.Webhook.Route)
	assert.Equal(t, "Acme Bot", cfg.Branding.Name)
	assert.Equal(t, "#338AFF", cfg.Style.PrimaryColor)
	assert.Equal(t, "left", cfg.Style.Position)
	assert.False(t, cfg.Advanced.DemoMode)
	assert.Contains(t, out.String(), "please answer left or right")
	assert.NoError(t, config.Validate(cfg))
}

func TestRunWizard_DemoWhenNoWebhook(t *testing.T) {
	cfg := config.Defaults()
	in := strings.NewReader("\n\n\n\n\ny\n")
	require.NoError(t, runWizard(in, &bytes.Buffer{}, cfg))
	assert.Empty(t, cfg.Webhook.URL)
	assert.True(t, cfg.Advanced.DemoMode)
}

func TestServiceUnit(t *testing.T) {
	path, body, _, err := serviceUnit("linux", "/usr/local/bin/popoutchat", "/etc/popoutchat/config.yaml")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "popoutchat.service"))
	assert.Contains(t, body, "ExecStart=/usr/local/bin/popoutchat serve --config /etc/popoutchat/config.yaml")

	path, body, _, err = serviceUnit("darwin", "/bin/p", "/c.yaml")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, launchdLabel+".plist"))
	assert.Contains(t, body, "<string>serve</string>")

	_, _, _, err = serviceUnit("plan9", "", "")
	assert.Error(t, err)
}

func TestCheckDatabase(t *testing.T) {
	assert.NoError(t, checkDatabase(filepath.Join(t.TempDir(), "sub", "doctor.db")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo world", 4))
}
