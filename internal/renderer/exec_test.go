package renderer

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decentraland/profile-images/internal/config"
	"github.com/decentraland/profile-images/internal/contracts"
	"github.com/decentraland/profile-images/pkg/catalyst"
)

func shellRenderer(t *testing.T, script string, timeout time.Duration) (*Exec, string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	workDir := t.TempDir()
	r := NewExec(config.RendererConfig{
		Command: "sh",
		Args:    []string{"-c", script, "sh", AvatarsPlaceholder},
		WorkDir: workDir,
		Timeout: timeout,
		BaseURL: "https://peer.decentraland.org/content/",
	}, zerolog.Nop())
	return r, workDir
}

func avatars(ids ...string) []contracts.ExtendedAvatar {
	out := make([]contracts.ExtendedAvatar, 0, len(ids))
	for _, id := range ids {
		out = append(out, contracts.ExtendedAvatar{
			Entity: id,
			Avatar: catalyst.AvatarDescriptor{BodyShape: "urn:decentraland:off-chain:base-avatars:BaseFemale"},
		})
	}
	return out
}

func TestRender_Success(t *testing.T) {
	jobCopy := filepath.Join(t.TempDir(), "job.json")
	script := `cp "$1" "` + jobCopy + `" && for e in avatar-0 avatar-1; do printf face > "${e}_face.png"; printf body > "${e}_body.png"; done`
	r, workDir := shellRenderer(t, script, 10*time.Second)
	r.newID = func() string { return "run-1" }

	outputs, err := r.Render(context.Background(), avatars("a", "b"))
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	for i, id := range []string{"a", "b"} {
		assert.Equal(t, id, outputs[i].Entity)
		assert.NoError(t, outputs[i].Err)
		assert.Equal(t, []byte("face"), outputs[i].Face)
		assert.Equal(t, []byte("body"), outputs[i].Body)
	}

	data, err := os.ReadFile(jobCopy)
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal(data, &job))
	assert.Equal(t, "https://peer.decentraland.org/content/", job.BaseURL)
	require.Len(t, job.Payload, 2)
	assert.Equal(t, filepath.Join(workDir, "render-run-1", "avatar-0"), job.Payload[0].DestPath)
	assert.Equal(t, "a", job.Payload[0].Entity)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "run directory should be removed")
}

func TestRender_MissingImageFailsOnlyThatAvatar(t *testing.T) {
	script := `printf face > avatar-0_face.png; printf body > avatar-0_body.png; printf face > avatar-1_face.png`
	r, _ := shellRenderer(t, script, 10*time.Second)

	outputs, err := r.Render(context.Background(), avatars("a", "b"))
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	assert.NoError(t, outputs[0].Err)
	require.Error(t, outputs[1].Err)
	assert.Contains(t, outputs[1].Err.Error(), "avatar-1_body.png")
}

func TestRender_EntityIDNeverBecomesPath(t *testing.T) {
	jobCopy := filepath.Join(t.TempDir(), "job.json")
	script := `cp "$1" "` + jobCopy + `" && printf face > avatar-0_face.png && printf body > avatar-0_body.png`
	r, workDir := shellRenderer(t, script, 10*time.Second)
	r.newID = func() string { return "run-1" }

	outputs, err := r.Render(context.Background(), avatars("../../escaped"))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "../../escaped", outputs[0].Entity)
	assert.NoError(t, outputs[0].Err)

	data, err := os.ReadFile(jobCopy)
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal(data, &job))
	require.Len(t, job.Payload, 1)

	runDir := filepath.Join(workDir, "render-run-1")
	rel, err := filepath.Rel(runDir, job.Payload[0].DestPath)
	require.NoError(t, err)
	assert.True(t, filepath.IsLocal(rel), "destination %s escapes the run directory", job.Payload[0].DestPath)
}

func TestRender_ProcessFailure(t *testing.T) {
	r, _ := shellRenderer(t, `echo "scene crashed" >&2; exit 3`, 10*time.Second)

	_, err := r.Render(context.Background(), avatars("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scene crashed")
	assert.Equal(t, contracts.ErrorTypeUnknown, contracts.ClassifyError(err))
}

func TestRender_Timeout(t *testing.T) {
	r, _ := shellRenderer(t, `exec sleep 5`, 100*time.Millisecond)

	_, err := r.Render(context.Background(), avatars("a"))
	require.Error(t, err)
	assert.Equal(t, contracts.ErrorTypeTransient, contracts.ClassifyError(err))
}

func TestRender_CommandNotFound(t *testing.T) {
	r := NewExec(config.RendererConfig{Command: "definitely-not-a-renderer", WorkDir: t.TempDir()}, zerolog.Nop())

	_, err := r.Render(context.Background(), avatars("a"))
	require.Error(t, err)
	assert.Equal(t, contracts.ErrorTypePermanent, contracts.ClassifyError(err))
}

func TestRender_NoCommand(t *testing.T) {
	r := NewExec(config.RendererConfig{}, zerolog.Nop())

	_, err := r.Render(context.Background(), avatars("a"))
	assert.Equal(t, contracts.ErrorTypePermanent, contracts.ClassifyError(err))
}

func TestRender_Empty(t *testing.T) {
	r := NewExec(config.RendererConfig{Command: "sh"}, zerolog.Nop())

	outputs, err := r.Render(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, outputs)
}

func TestRender_UniqueRunDirectories(t *testing.T) {
	r, _ := shellRenderer(t, `pwd > "$(dirname "$1")/../last_run"; printf f > avatar-0_face.png; printf b > avatar-0_body.png`, 10*time.Second)

	_, err := r.Render(context.Background(), avatars("a"))
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(r.workDir, "last_run"))
	require.NoError(t, err)

	_, err = r.Render(context.Background(), avatars("a"))
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(r.workDir, "last_run"))
	require.NoError(t, err)

	assert.NotEqual(t, string(first), string(second))
}
