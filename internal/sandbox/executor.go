package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

// ChildCommand is the CLI subcommand that runs RunChild.
const ChildCommand = "sandbox-extract"

const (
	maxStderr       = 64 << 10
	stderrInMessage = 2 << 10
)

type Option func(*Executor)

// WithCommand replaces the child argv. The default re-executes the running
// binary with ChildCommand.
func WithCommand(path string, args ...string) Option {
	return func(e *Executor) {
		e.path = path
		e.args = args
	}
}

// WithEnv adds KEY=VALUE pairs to the child's otherwise minimal environment.
func WithEnv(env ...string) Option {
	return func(e *Executor) { e.env = append(e.env, env...) }
}

func WithTempDir(dir string) Option {
	return func(e *Executor) { e.tempDir = dir }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// Executor runs extraction in a child process per call. It is safe for
// concurrent use.
type Executor struct {
	log     *logger.Logger
	limits  Limits
	path    string
	args    []string
	env     []string
	tempDir string
	metrics *observability.Metrics
}

func NewExecutor(baseLog *logger.Logger, limits Limits, opts ...Option) (*Executor, error) {
	e := &Executor{
		log:    baseLog.With("component", "SandboxExecutor"),
		limits: limits,
		args:   []string{ChildCommand},
	}
	for _, o := range opts {
		o(e)
	}
	if e.path == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve executable: %w", err)
		}
		e.path = self
	}
	if e.tempDir == "" {
		e.tempDir = os.TempDir()
	}
	return e, nil
}

func (e *Executor) Limits() Limits { return e.limits }

// Extract satisfies the pipeline's extractor contract.
func (e *Executor) Extract(ctx context.Context, path string) (*bim.ExtractedModel, error) {
	return e.RunIsolated(ctx, path)
}

// RunIsolated extracts filePath in a fresh child process under the
// executor's limits. A child still running after CPUSeconds of wall time is
// sent SIGTERM, and SIGKILL once GracePeriod has passed.
func (e *Executor) RunIsolated(ctx context.Context, filePath string) (*bim.ExtractedModel, error) {
	start := time.Now()
	model, err := e.run(ctx, filePath)
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
	}
	e.metrics.ObserveSandbox(outcome, time.Since(start))
	if err != nil {
		e.log.Warn("sandboxed extraction failed", "file_path", filePath, "error_code", outcome, "error", err, "duration", time.Since(start))
		return nil, err
	}
	e.log.Info("sandboxed extraction finished", "file_path", filePath, "elements", len(model.Elements), "duration", time.Since(start))
	return model, nil
}

func (e *Executor) run(ctx context.Context, filePath string) (*bim.ExtractedModel, error) {
	const op = "sandbox.RunIsolated"

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, apperr.New(apperr.IOFailure, op, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, apperr.New(apperr.IOFailure, op, err)
	}
	if limit := e.limits.fileSizeBytes(); limit > 0 && fi.Size() > limit {
		return nil, apperr.Newf(apperr.FileTooLarge, op, "file too large: %d bytes (max %d)", fi.Size(), limit)
	}

	workdir, err := os.MkdirTemp(e.tempDir, "vitruvius_sandbox_")
	if err != nil {
		return nil, apperr.New(apperr.SandboxFailure, op, err)
	}
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			e.log.Warn("sandbox: could not remove work dir", "dir", workdir, "error", err)
		}
	}()

	reqBody, err := json.Marshal(Request{FilePath: abs, Limits: e.limits})
	if err != nil {
		return nil, apperr.New(apperr.SandboxFailure, op, err)
	}

	runCtx := ctx
	if budget := e.limits.cpuBudget(); budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.path, e.args...)
	cmd.Dir = workdir
	cmd.Env = append([]string{"TMPDIR=" + workdir, "HOME=" + workdir, "PATH=" + os.Getenv("PATH")}, e.env...)
	cmd.Stdin = bytes.NewReader(reqBody)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = e.limits.GracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.New(apperr.SandboxFailure, op, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperr.New(apperr.SandboxFailure, op, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.New(apperr.SandboxFailure, op, err)
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&outBuf, stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&tailWriter{buf: &errBuf, max: maxStderr}, stderr)
		return err
	})
	drainErr := g.Wait()
	waitErr := cmd.Wait()

	if errBuf.Len() > 0 {
		e.log.Debug("sandbox child stderr", "output", errBuf.String())
	}

	var resp Response
	if jerr := json.Unmarshal(bytes.TrimSpace(outBuf.Bytes()), &resp); jerr == nil && (resp.Model != nil || resp.ErrorCode != "") {
		if rerr := resp.err(); rerr != nil {
			return nil, rerr
		}
		return resp.Model, nil
	}

	if cerr := ctx.Err(); cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return nil, apperr.New(apperr.ProcessingTimeout, op, cerr)
		}
		return nil, apperr.New(apperr.Internal, op, cerr)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, apperr.Newf(apperr.ProcessingTimeout, op, "terminated after %s", e.limits.cpuBudget())
	}
	return nil, classifyExit(op, waitErr, drainErr, errBuf.String())
}

// classifyExit maps a child that died without answering to an error code.
func classifyExit(op string, waitErr, drainErr error, stderr string) error {
	detail := stderrTail(stderr)
	oom := strings.Contains(stderr, "out of memory") || strings.Contains(stderr, "cannot allocate memory")

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		if waitErr == nil {
			waitErr = drainErr
		}
		if waitErr == nil {
			waitErr = fmt.Errorf("no response from child")
		}
		return apperr.New(apperr.SandboxFailure, op, waitErr)
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		switch ws.Signal() {
		case syscall.SIGXCPU:
			return apperr.Newf(apperr.ProcessingTimeout, op, "cpu time limit exceeded")
		case syscall.SIGXFSZ:
			return apperr.Newf(apperr.FileTooLarge, op, "output file size limit exceeded")
		case syscall.SIGKILL:
			if oom {
				return apperr.Newf(apperr.MemoryLimitExceeded, op, "killed: %s", detail)
			}
			// the kernel sends SIGKILL at the CPU hard limit
			return apperr.Newf(apperr.ProcessingTimeout, op, "killed by signal %s", ws.Signal())
		case syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGABRT:
			if oom {
				return apperr.Newf(apperr.MemoryLimitExceeded, op, "%s", detail)
			}
		}
		return apperr.Newf(apperr.SandboxFailure, op, "killed by signal %s: %s", ws.Signal(), detail)
	}

	switch {
	case exitErr.ExitCode() == exitCPULimit:
		return apperr.Newf(apperr.ProcessingTimeout, op, "cpu time limit exceeded")
	case oom:
		return apperr.Newf(apperr.MemoryLimitExceeded, op, "%s", detail)
	default:
		return apperr.Newf(apperr.SandboxFailure, op, "exit status %d: %s", exitErr.ExitCode(), detail)
	}
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrInMessage {
		s = "..." + s[len(s)-stderrInMessage:]
	}
	if s == "" {
		return "no output"
	}
	return s
}

// tailWriter keeps at most max bytes, dropping the oldest.
type tailWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > w.max {
		p = p[len(p)-w.max:]
	}
	if over := w.buf.Len() + len(p) - w.max; over > 0 {
		w.buf.Next(over)
	}
	w.buf.Write(p)
	return n, nil
}
