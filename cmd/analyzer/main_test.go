package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

const testConfigYAML = `
logging:
  level: error
  output: stderr
providers:
  default: mock
  entries:
    claude:
      api_key: sk-ant-test
`

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, name := range []string{"CLAUDE_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENROUTER_API_KEY"} {
		t.Setenv(name, "")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o644))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestProvidersList(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		out, err := executeCommand(t, "providers", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "PROVIDER")
		assert.Contains(t, out, "mock*")
		assert.Contains(t, out, "openrouter")
	})

	t.Run("json", func(t *testing.T) {
		out, err := executeCommand(t, "providers", "list", "--json")
		require.NoError(t, err)

		var infos []types.ProviderInfo
		require.NoError(t, json.Unmarshal([]byte(out), &infos))
		require.Len(t, infos, 4)

		byID := make(map[string]types.ProviderInfo)
		for _, info := range infos {
			byID[info.ID] = info
		}
		assert.True(t, byID["claude"].Configured)
		assert.False(t, byID["gemini"].Configured)
		assert.Equal(t, types.StatusActive, byID["mock"].Status)
	})
}

func TestProvidersTest(t *testing.T) {
	t.Run("mock succeeds", func(t *testing.T) {
		out, err := executeCommand(t, "providers", "test", "mock")
		require.NoError(t, err)
		assert.Contains(t, out, "active")
	})

	t.Run("missing key fails", func(t *testing.T) {
		out, err := executeCommand(t, "providers", "test", "gemini", "--json")
		require.Error(t, err)

		var statuses map[string]types.ProviderStatus
		require.NoError(t, json.Unmarshal([]byte(out), &statuses))
		st := statuses["gemini"]
		assert.Equal(t, types.StatusError, st.Status)
		require.NotNil(t, st.Error)
		assert.Equal(t, types.ErrorConfiguration, st.Error.Type)
	})

	t.Run("name or all", func(t *testing.T) {
		_, err := executeCommand(t, "providers", "test")
		assert.Error(t, err)
		_, err = executeCommand(t, "providers", "test", "mock", "--all")
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := executeCommand(t, "providers", "test", "zhipu")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not registered")
	})
}

func TestProvidersModels(t *testing.T) {
	_, err := executeCommand(t, "providers", "models", "claude")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support model fetching")
}

func TestServe_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "serve"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}
