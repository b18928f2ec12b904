package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivepoint/source-quickbooks/pkg/protocol"
)

func execute(t *testing.T, args ...string) ([]protocol.Message, error) {
	t.Helper()
	out := &bytes.Buffer{}
	root := newRootCommand(out, viper.New())
	root.SetArgs(args)
	err := root.Execute()

	var msgs []protocol.Message
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var m protocol.Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		msgs = append(msgs, m)
	}
	return msgs, err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSpecCommand(t *testing.T) {
	msgs, err := execute(t, "spec", "--log-level", "error")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeSpec, msgs[0].Type)
	assert.True(t, json.Valid(msgs[0].Spec.ConnectionSpecification))
}

func TestDiscoverCommand(t *testing.T) {
	cfg := writeFile(t, "config.json", `{
  "realm_id": "42",
  "credentials": {"client_id": "id", "client_secret": "secret", "refresh_token": "r"}
}`)
	msgs, err := execute(t, "discover", "--config", cfg, "--log-level", "error")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, protocol.TypeCatalog, msgs[0].Type)
	assert.Len(t, msgs[0].Catalog.Streams, 2)
}

func TestDiscoverInvalidConfigEmitsTrace(t *testing.T) {
	cfg := writeFile(t, "config.json", `{"realm_id": "42", "credentials": {"client_id": "id"}}`)
	msgs, err := execute(t, "discover", "--config", cfg, "--log-level", "fatal")
	require.Error(t, err)

	var traces []protocol.Message
	for _, m := range msgs {
		if m.Type == protocol.TypeTrace {
			traces = append(traces, m)
		}
	}
	require.Len(t, traces, 1)
	assert.Equal(t, "ERROR", traces[0].Trace.Type)
	assert.Equal(t, protocol.FailureTypeConfig, traces[0].Trace.Error.FailureType)
	assert.Equal(t, "client_secret is required", traces[0].Trace.Error.Message)
}

func TestCheckUnreadableConfigFails(t *testing.T) {
	msgs, err := execute(t, "check", "--config", filepath.Join(t.TempDir(), "missing.json"), "--log-level", "error")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeConnectionStatus, msgs[0].Type)
	assert.Equal(t, protocol.StatusFailed, msgs[0].ConnectionStatus.Status)
}

func TestReadRequiresCatalog(t *testing.T) {
	cfg := writeFile(t, "config.json", `{}`)
	_, err := execute(t, "read", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog")
}

func TestSettingsFromEnvironment(t *testing.T) {
	t.Setenv("QBO_LOG_LEVEL", "debug")
	t.Setenv("QBO_TIMEOUT", "90s")

	v := viper.New()
	root := newRootCommand(&bytes.Buffer{}, v)
	require.NoError(t, root.ParseFlags(nil))

	s := loadSettings(v)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "airbyte", s.LogFormat)
	assert.Equal(t, "1m30s", s.Timeout.String())
}
