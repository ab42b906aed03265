package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/weakmem/internal/weakmem/litmus"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tsocheck version "+version+"\n", out)
}

func TestList(t *testing.T) {
	out, _, err := execute(t, "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 11)
	assert.True(t, strings.HasPrefix(lines[0], "SB "))
}

func TestRunBuiltin(t *testing.T) {
	out, _, err := execute(t, "run", "--parallel", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "PASS  SB ")
	assert.Contains(t, out, "PASS  2+2W ")
	assert.NotContains(t, out, "FAIL")
	assert.True(t, strings.HasSuffix(out, "ok\n"))
}

func TestRunSelectedTestVerbose(t *testing.T) {
	out, _, err := execute(t, "run", "--test", "SB", "-v")
	require.NoError(t, err)

	assert.Contains(t, out, "buffer=2")
	assert.Contains(t, out, "r0=0 r1=0")
	assert.NotContains(t, out, "MP")
}

func TestRunUnknownTest(t *testing.T) {
	_, _, err := execute(t, "run", "--test", "nope")
	assert.ErrorContains(t, err, `no test named "nope"`)
}

func TestRunRandom(t *testing.T) {
	out, _, err := execute(t, "run", "-s", "random", "-n", "50", "--seed", "7", "-t", "MP")
	require.NoError(t, err)
	assert.Contains(t, out, "paths=50 ")
}

func TestRunBadFlags(t *testing.T) {
	tests := [][]string{
		{"run", "--strategy", "bfs"},
		{"run", "--strategy", "random", "--iterations", "0"},
		{"run", "--log-level", "loud"},
		{"run", "--log-format", "xml"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			_, _, err := execute(t, args...)
			assert.Error(t, err)
			assert.NotErrorIs(t, err, errChecksFailed)
		})
	}
}

const failingSuite = `format: v1.0.0
tests:
  - name: SB-sc
    locations: {x: {}, y: {}}
    threads:
      - [{op: store, loc: x, value: 1}, {op: load, loc: y, reg: r0}]
      - [{op: store, loc: y, value: 1}, {op: load, loc: x, reg: r1}]
    forbidden: ["r0=0 r1=0"]
`

func TestRunFailingSuite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(failingSuite), 0o600))

	out, _, err := execute(t, "run", path)
	require.ErrorIs(t, err, errChecksFailed)

	assert.Contains(t, out, "FAIL  SB-sc")
	assert.Contains(t, out, "forbidden: r0=0 r1=0 (r0=0 r1=0)")
	assert.Contains(t, out, "FAIL: 1 test(s) failed")
}

func TestRunUnboundedFromEnv(t *testing.T) {
	t.Setenv(litmus.EnvBufferSize, "-1")

	out, _, err := execute(t, "run", "-t", "SB")
	require.NoError(t, err)
	assert.Contains(t, out, "buffer=inf")

	t.Setenv(litmus.EnvBufferSize, "x")
	_, _, err = execute(t, "run", "-t", "SB")
	assert.ErrorContains(t, err, litmus.EnvBufferSize)
}

func TestRunFlagBeatsEnv(t *testing.T) {
	t.Setenv(litmus.EnvBufferSize, "-1")

	out, _, err := execute(t, "run", "-t", "SB", "-b", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "buffer=3")
}

func TestJSONLogs(t *testing.T) {
	_, errOut, err := execute(t, "run", "-t", "SB", "--log-level", "info", "--log-format", "json")
	require.NoError(t, err)

	assert.Contains(t, errOut, `"msg":"litmus: test done"`)
	assert.Contains(t, errOut, `"run_id":`)
	assert.Contains(t, errOut, `"test":"SB"`)
}

func TestMetricsServer(t *testing.T) {
	out, errOut, err := execute(t, "run", "-t", "SB", "--metrics-addr", "127.0.0.1:0", "--log-level", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS")
	assert.Contains(t, errOut, "tsocheck: serving metrics")
}
