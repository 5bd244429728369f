package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fhirdoc/internal/config"
	"fhirdoc/internal/hook"
	"fhirdoc/internal/platform/logger"
	"fhirdoc/pkg/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fhirdoc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "fhirdoc version dev\n", out)
}

func TestDocumentCommandWithSample(t *testing.T) {
	out, err := execute(t, "document", "comp-1", "--sample", "--base-url", "http://cli.test/fhir")
	require.NoError(t, err)

	var b domain.Bundle
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Equal(t, domain.BundleTypeDocument, b.Type)
	require.Len(t, b.Entry, 10)
	assert.Equal(t, "http://cli.test/fhir/Composition/comp-1", b.Entry[0].FullURL)
}

func TestDocumentCommandNDJSON(t *testing.T) {
	out, err := execute(t, "document", "comp-1", "--sample", "--format", "ndjson")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 10)
}

func TestDocumentCommandErrors(t *testing.T) {
	_, err := execute(t, "document", "comp-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = execute(t, "document", "comp-1", "--format", "xml")
	assert.Error(t, err)

	_, err = execute(t, "document", "comp-1", "--sample", "--persist")
	assert.Error(t, err)
}

func TestLoadRequiresInput(t *testing.T) {
	_, err := execute(t, "load")
	assert.Error(t, err)
}

func TestLoadThenDocumentAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, `
storage:
  driver: sqlite
  sqlite_path: `+filepath.Join(dir, "records.db")+`
archive:
  driver: fs
  fs_root: `+filepath.Join(dir, "documents")+`
`)
	out, err := execute(t, "--config", cfgPath, "load", "--sample")
	require.NoError(t, err)
	assert.Contains(t, out, "Composition/comp-1/_history/1")

	out, err = execute(t, "--config", cfgPath, "document", "comp-1", "--persist")
	require.NoError(t, err)
	var b domain.Bundle
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Len(t, b.Entry, 10)
	_, err = os.Stat(filepath.Join(dir, "documents", "Bundle", b.ID+".json"))
	assert.NoError(t, err)
}

func TestLoadFromFile(t *testing.T) {
	bundle := `{"resourceType":"Bundle","type":"collection","entry":[{"resource":{"resourceType":"Patient","id":"p1"}}]}`
	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, []byte(bundle), 0o600))
	out, err := execute(t, "load", path)
	require.NoError(t, err)
	assert.Equal(t, "Patient/p1/_history/1\n", out)
}

func TestBuildHooksFromConfig(t *testing.T) {
	hooks, err := buildHooks(config.HooksConfig{SuppressTypes: []string{"Observation"}, Audit: true}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, hooks.Len(hook.ResourceMayBeReturned))

	empty, err := buildHooks(config.HooksConfig{}, logger.Nop())
	require.NoError(t, err)
	assert.Zero(t, empty.Len(hook.ResourceMayBeReturned))
}
