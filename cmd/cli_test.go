package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const copyPromptCommand = "mkdir -p {output_dir} && cp {prompt} {output_dir}/upsampled_prompt.json"

func TestVersionPrintsVersion(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestRunCompletesBatchThroughLocalTransport(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, copyPromptCommand)
	batchPath := writeBatchFixture(t, home, 256, 144, "clip-1", "clip-2")

	stdout, stderr, err := executeCLI(t, home, "--config", configPath, "run", batchPath)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "items: 2  completed: 2  failed: 0  skipped: 0  unprocessed: 0")
	assert.Contains(t, stdout, "clip-1 1275 tokens")

	data, err := os.ReadFile(filepath.Join(home, "state", "results", "clip-2", "upsampled_prompt.json"))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "clip-2", payload["id"])
	assert.Equal(t, "a red fox at dawn", payload["prompt"])
	assert.EqualValues(t, 256, payload["width"])

	stdout, stderr, err = executeCLI(t, home, "--config", configPath, "run", batchPath)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "completed: 2  failed: 0  skipped: 2")
	assert.Contains(t, stdout, "(resumed)")
}

func TestRunJSONWithSQLiteCheckpoint(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, copyPromptCommand)
	batchPath := writeBatchFixture(t, home, 256, 144, "clip-1")
	checkpoint := filepath.Join(home, "state", "checkpoint.db")

	stdout, stderr, err := executeCLI(t, home, "--config", configPath, "run", batchPath, "--checkpoint", checkpoint, "--json")
	require.NoError(t, err, "stderr: %s", stderr)

	var result batchJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Completed, 1)
	assert.Equal(t, "clip-1", result.Completed[0].ID)
	assert.Equal(t, string(domain.StateCompleted), result.Completed[0].State)
	assert.Equal(t, filepath.Join(home, "state", "results", "clip-1"), result.Completed[0].ResultRef)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Unprocessed)

	stdout, stderr, err = executeCLI(t, home, "--config", configPath, "checkpoint", "list", "--checkpoint", checkpoint, "--json")
	require.NoError(t, err, "stderr: %s", stderr)

	var records []recordJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "clip-1", records[0].ID)
	assert.Equal(t, string(domain.RecordCompleted), records[0].Status)
}

func TestRunRecordsFailedItemAndStrictExitsNonZero(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, "echo 'CUDA out of memory' >&2; exit 3")
	batchPath := writeBatchFixture(t, home, 256, 144, "clip-1")

	stdout, stderr, err := executeCLI(t, home, "--config", configPath, "run", batchPath, "--strict")
	require.Error(t, err, "stderr: %s", stderr)
	assert.ErrorIs(t, err, errItemsFailed)
	assert.Contains(t, stdout, "failed: 1")
	assert.Contains(t, stdout, "clip-1 remote_execution: non-zero-exit")
	assert.Contains(t, stdout, "command exited with status 3")

	stdout, _, err = executeCLI(t, home, "--config", configPath, "checkpoint", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "records: 1  completed: 0  failed: 1")
	assert.Contains(t, stdout, "clip-1 failed remote_execution non-zero-exit")
}

func TestRunWithoutStrictIgnoresFailedItems(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, "exit 1")
	batchPath := writeBatchFixture(t, home, 256, 144, "clip-1")

	stdout, _, err := executeCLI(t, home, "--config", configPath, "run", batchPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "failed: 1")
}

func TestRunMissingBatchFile(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, copyPromptCommand)

	_, _, err := executeCLI(t, home, "--config", configPath, "run", filepath.Join(home, "missing.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorContains(t, err, "read batch")
}

func TestRunRequiresHostForSSHTransport(t *testing.T) {
	home := t.TempDir()
	configPath := filepath.Join(home, "upd.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[remote]\ntransport = \"ssh\"\n"), 0o644))
	batchPath := writeBatchFixture(t, home, 256, 144, "clip-1")

	_, _, err := executeCLI(t, home, "--config", configPath, "run", batchPath)
	require.Error(t, err)
	assert.ErrorContains(t, err, "remote.host is required")
}

func TestInvalidConfigIsReported(t *testing.T) {
	home := t.TempDir()
	configPath := filepath.Join(home, "upd.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[remote]\ntransport = \"ftp\"\n"), 0o644))
	batchPath := writeBatchFixture(t, home, 256, 144, "clip-1")

	_, _, err := executeCLI(t, home, "--config", configPath, "estimate", batchPath)
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported remote.transport \"ftp\"")
}

func TestEstimateShowsDownsampleDecision(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, copyPromptCommand)
	batchPath := writeBatchFixture(t, home, 1280, 720, "big")

	stdout, stderr, err := executeCLI(t, home, "--config", configPath, "estimate", batchPath)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "budget: 4096 tokens  k: 0.0173  policy: preset  items: 1")
	assert.Contains(t, stdout, "1280x720")
	assert.Contains(t, stdout, "31887")
	assert.Contains(t, stdout, "downsample")
	assert.Contains(t, stdout, "320x180")
	assert.Contains(t, stdout, "1993")
}

func TestEstimateJSON(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, copyPromptCommand)
	batchPath := writeBatchFixture(t, home, 256, 144, "small")

	stdout, _, err := executeCLI(t, home, "--config", configPath, "estimate", batchPath, "--json")
	require.NoError(t, err)

	var rows []estimateJSON
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "small", rows[0].ID)
	assert.Equal(t, string(domain.ActionProceed), rows[0].Action)
	assert.EqualValues(t, 1275, rows[0].Tokens)
	assert.True(t, rows[0].Feasible)
}

func TestSecretSetAndRemoveUseFileFallback(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, copyPromptCommand)
	secretPath := filepath.Join(home, "secrets", "gpu-box", "password")

	_, stderr, err := executeCLI(t, home, "--config", configPath, "secret", "set", "gpu-box/password", "--value", "hunter2")
	require.NoError(t, err, "stderr: %s", stderr)

	data, err := os.ReadFile(secretPath)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(data))

	_, stderr, err = executeCLI(t, home, "--config", configPath, "secret", "rm", "gpu-box/password")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.NoFileExists(t, secretPath)
}

func TestSecretSetRequiresValueFlag(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, copyPromptCommand)

	_, _, err := executeCLI(t, home, "--config", configPath, "secret", "set", "gpu-box/password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s) \"value\" not set")
}

func TestCheckpointListEmpty(t *testing.T) {
	home := t.TempDir()
	configPath := writeConfigFixture(t, home, copyPromptCommand)

	stdout, _, err := executeCLI(t, home, "--config", configPath, "checkpoint", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "records: 0")
	assert.Contains(t, stdout, "No records yet.")
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("PASSWORD_STORE_DIR", filepath.Join(home, "password-store"))

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfigFixture(t *testing.T, home, command string) string {
	t.Helper()

	state := filepath.Join(home, "state")
	config := fmt.Sprintf(`[remote]
transport = "local"
work_dir = %q
command = %q
connect_attempts = 1
exec_timeout = "30s"

[run]
workers = 1
staging_dir = %q
hint_dir = %q
results_dir = %q
checkpoint = %q

[secrets]
file_root = %q

[log]
level = "warn"
`,
		filepath.Join(home, "remote"),
		command,
		filepath.Join(state, "staging"),
		filepath.Join(state, "hints"),
		filepath.Join(state, "results"),
		filepath.Join(state, "checkpoint.toml"),
		filepath.Join(home, "secrets"),
	)

	path := filepath.Join(home, "upd.toml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))
	return path
}

func writeBatchFixture(t *testing.T, home string, width, height int, ids ...string) string {
	t.Helper()

	var batch bytes.Buffer
	batch.WriteString("version = 1\n")
	for _, id := range ids {
		video := id + ".mp4"
		require.NoError(t, os.WriteFile(filepath.Join(home, video), []byte("video bytes for "+id), 0o644))
		fmt.Fprintf(&batch, "\n[[prompts]]\nid = %q\nprompt = \"a red fox at dawn\"\nvideo = %q\nwidth = %d\nheight = %d\nframes = 2\n",
			id, video, width, height)
	}

	path := filepath.Join(home, "prompts.toml")
	require.NoError(t, os.WriteFile(path, batch.Bytes(), 0o644))
	return path
}
