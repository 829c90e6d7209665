// Package renderer runs the external avatar renderer.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/decentraland/profile-images/internal/config"
	"github.com/decentraland/profile-images/internal/contracts"
	"github.com/decentraland/profile-images/pkg/catalyst"
)

const (
	// AvatarsFile is the name of the job file written into each run directory
	AvatarsFile = "avatars.json"
	// AvatarsPlaceholder in the configured args is replaced by the job file path
	AvatarsPlaceholder = "{avatars}"

	outputPattern = "avatar-%d"
	faceSuffix    = "_face.png"
	bodySuffix    = "_body.png"

	maxOutputLog = 2048
)

// Job is the file handed to the renderer process
type Job struct {
	BaseURL string       `json:"baseUrl"`
	Payload []JobPayload `json:"payload"`
}

// JobPayload is one avatar to render. The renderer writes
// DestPath+"_face.png" and DestPath+"_body.png", where DestPath is
// runDir/avatar-<index>.
type JobPayload struct {
	Entity   string                    `json:"entity"`
	Avatar   catalyst.AvatarDescriptor `json:"avatar"`
	DestPath string                    `json:"destPath"`
}

// Exec renders avatars by running an external command once per batch
type Exec struct {
	command string
	args    []string
	workDir string
	timeout time.Duration
	baseURL string
	logger  zerolog.Logger
	newID   func() string
}

// NewExec creates a renderer from cfg
func NewExec(cfg config.RendererConfig, logger zerolog.Logger) *Exec {
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Exec{
		command: cfg.Command,
		args:    cfg.Args,
		workDir: workDir,
		timeout: timeout,
		baseURL: cfg.BaseURL,
		logger:  logger.With().Str("component", "renderer").Logger(),
		newID:   uuid.NewString,
	}
}

var _ contracts.Renderer = (*Exec)(nil)

// Render runs the renderer over avatars in a fresh run directory and returns
// one output per avatar. A missing image fails only its avatar; a failing
// process fails the whole batch.
func (e *Exec) Render(ctx context.Context, avatars []contracts.ExtendedAvatar) ([]contracts.RenderOutput, error) {
	if len(avatars) == 0 {
		return nil, nil
	}
	if e.command == "" {
		return nil, contracts.NewPermanentError("renderer command not configured", nil)
	}

	runID := e.newID()
	runDir := filepath.Join(e.workDir, "render-"+runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			e.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to remove run directory")
		}
	}()

	// Outputs are named by position; entity ids never become paths.
	job := Job{BaseURL: e.baseURL, Payload: make([]JobPayload, 0, len(avatars))}
	for i, a := range avatars {
		job.Payload = append(job.Payload, JobPayload{
			Entity:   a.Entity,
			Avatar:   a.Avatar,
			DestPath: filepath.Join(runDir, fmt.Sprintf(outputPattern, i)),
		})
	}

	jobPath := filepath.Join(runDir, AvatarsFile)
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal render job: %w", err)
	}
	if err := os.WriteFile(jobPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write render job: %w", err)
	}

	log := e.logger.With().Str("run_id", runID).Int("avatars", len(avatars)).Logger()
	log.Debug().Str("command", e.command).Msg("Starting renderer")
	start := time.Now()

	if err := e.run(ctx, runDir, jobPath); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Renderer failed")
		return nil, err
	}

	outputs := make([]contracts.RenderOutput, 0, len(avatars))
	for _, p := range job.Payload {
		out := contracts.RenderOutput{Entity: p.Entity}
		out.Face, out.Err = readImage(p.DestPath + faceSuffix)
		if out.Err == nil {
			out.Body, out.Err = readImage(p.DestPath + bodySuffix)
		}
		outputs = append(outputs, out)
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("Renderer finished")
	return outputs, nil
}

func (e *Exec) run(ctx context.Context, runDir, jobPath string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := make([]string, 0, len(e.args)+1)
	substituted := false
	for _, a := range e.args {
		if strings.Contains(a, AvatarsPlaceholder) {
			a = strings.ReplaceAll(a, AvatarsPlaceholder, jobPath)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, jobPath)
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Dir = runDir
	cmd.WaitDelay = time.Second
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return nil
	}

	tail := output.String()
	if len(tail) > maxOutputLog {
		tail = tail[len(tail)-maxOutputLog:]
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return contracts.NewTransientError(fmt.Sprintf("renderer timed out after %s", e.timeout), ctx.Err())
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return contracts.NewPermanentError("renderer command not runnable", err)
	}
	return fmt.Errorf("renderer exited: %w: %s", err, strings.TrimSpace(tail))
}

func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("renderer produced no %s", filepath.Base(path))
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("renderer produced an empty %s", filepath.Base(path))
	}
	return data, nil
}
