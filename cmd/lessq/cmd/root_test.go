package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{
		"--config=" + filepath.Join(t.TempDir(), "missing.yaml"),
		"--env-file=",
	}, args...))

	err := root.Execute()
	return out.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range NewRootCommand().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "publish", "delete", "stats", "buried", "reanimate", "migrate"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestJobCommandsOnPebble(t *testing.T) {
	t.Setenv("LESSQ_QUEUE_STORE", "pebble")
	t.Setenv("LESSQ_PEBBLE_PATH", t.TempDir())
	t.Setenv("LESSQ_LOG_LEVEL", "error")

	out, err := run(t, "publish", "email", `{"to":"ops@example.com"}`, "--priority", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Published email")

	out, err = run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "processable: 1")
	assert.Contains(t, out, "buried:      0")

	out, err = run(t, "buried")
	require.NoError(t, err)
	assert.Contains(t, out, "No buried jobs on page 1 (0 total).")

	out, err = run(t, "reanimate", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Reanimated row:7")

	out, err = run(t, "delete", "row:1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted row:1")

	out, err = run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "processable: 0")
}

func TestCommandErrors(t *testing.T) {
	t.Setenv("LESSQ_QUEUE_STORE", "pebble")
	t.Setenv("LESSQ_PEBBLE_PATH", t.TempDir())
	t.Setenv("LESSQ_LOG_LEVEL", "error")

	_, err := run(t, "publish", "email", "{broken")
	assert.ErrorContains(t, err, "not valid JSON")

	_, err = run(t, "publish", "email", "--priority", "8")
	assert.Error(t, err)

	_, err = run(t, "delete", "nope")
	assert.ErrorContains(t, err, "invalid job id")

	_, err = run(t, "buried", "--size", "500")
	assert.Error(t, err)

	_, err = run(t, "migrate")
	assert.ErrorContains(t, err, "needs the sql store")
}

func TestMigrateSQLite(t *testing.T) {
	t.Setenv("LESSQ_QUEUE_STORE", "sql")
	t.Setenv("LESSQ_SQL_DRIVER", "sqlite3")
	t.Setenv("LESSQ_SQL_DSN", filepath.Join(t.TempDir(), "lessq.db"))
	t.Setenv("LESSQ_LOG_LEVEL", "error")

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date.")

	out, err = run(t, "publish", "report")
	require.NoError(t, err)
	assert.Contains(t, out, "Published report")
}

func TestDefaultStoreSharedBetweenInvocations(t *testing.T) {
	// Only the file location changes; store and driver come from the defaults
	t.Setenv("LESSQ_SQL_DSN", "file:"+filepath.Join(t.TempDir(), "lessq.db")+"?_busy_timeout=5000")
	t.Setenv("LESSQ_QUEUE_CODEC", "proto")
	t.Setenv("LESSQ_LOG_LEVEL", "error")

	for _, name := range []string{"report", "digest"} {
		out, err := run(t, "publish", name, `{"day":"monday"}`)
		require.NoError(t, err)
		assert.Contains(t, out, "Published "+name)
	}

	out, err := run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "processable: 2")
}
