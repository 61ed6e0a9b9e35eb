// Package remmaker runs the external REM generator as a subprocess.
package remmaker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/couchcryptid/watershed-rem/internal/domain"
)

// maxOutput bounds how much subprocess output is kept for error reports.
const maxOutput = 4096

// Runner invokes the REM command:
//
//	<command...> --out_dir DIR --interp_pts N --k K --cmap CMAP INPUT
type Runner struct {
	command []string
	timeout time.Duration
	env     []string
	logger  *slog.Logger
}

// NewRunner creates a Runner. command is the program and any leading arguments.
func NewRunner(command []string, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{command: command, timeout: timeout, logger: logger}
}

// WithEnv appends environment variables to the subprocess environment.
func (r *Runner) WithEnv(env ...string) *Runner {
	r.env = append(r.env, env...)
	return r
}

// Generate runs the command for job and waits for it to exit.
func (r *Runner) Generate(ctx context.Context, job domain.REMJob) error {
	if len(r.command) == 0 {
		return errors.New("rem: no command configured")
	}
	if err := os.MkdirAll(job.OutDir, 0o755); err != nil {
		return fmt.Errorf("rem: create out dir: %w", err)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.command[0], Args(r.command[1:], job)...)
	cmd.Env = append(os.Environ(), r.env...)
	out := &tailBuffer{max: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Info("rem generator starting", "input", job.Input, "out_dir", job.OutDir,
		"interp_pts", job.Params.InterpPoints, "k", job.Params.K)
	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w (%v)", ctx.Err(), err)
		}
		return fmt.Errorf("rem: %s: %w: %s", job.Input, err, bytes.TrimSpace(out.Bytes()))
	}
	r.logger.Info("rem generator finished", "input", job.Input, "duration", time.Since(start))
	return nil
}

// Args builds the argument list following any leading command arguments.
func Args(lead []string, job domain.REMJob) []string {
	args := append([]string{}, lead...)
	return append(args,
		"--out_dir", job.OutDir,
		"--interp_pts", strconv.Itoa(job.Params.InterpPoints),
		"--k", strconv.Itoa(job.Params.K),
		"--cmap", job.Params.Colormap,
		job.Input,
	)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte { return t.buf }
