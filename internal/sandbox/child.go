package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/ifc"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

// ExtractFunc is the work the child performs once its limits are in place.
type ExtractFunc func(ctx context.Context, req Request) (*bim.ExtractedModel, error)

// DefaultExtract runs the IFC extractor with the request's element ceiling.
func DefaultExtract(log *logger.Logger) ExtractFunc {
	return func(ctx context.Context, req Request) (*bim.ExtractedModel, error) {
		x := ifc.NewExtractor(log, ifc.WithMaxElements(req.Limits.MaxElements))
		return x.Extract(ctx, req.FilePath)
	}
}

// RunChild is the body of the sandbox-extract process. It reads a Request
// from in, applies the OS limits to itself, runs extract and writes exactly
// one Response to out. The return value is the process exit code.
func RunChild(log *logger.Logger, in io.Reader, out io.Writer, extract ExtractFunc) int {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		log.Error("sandbox: bad request", "error", err)
		return exitBadRequest
	}
	log = log.With("component", "SandboxChild", "file_path", req.FilePath)

	w := &onceWriter{out: out}

	if err := applyLimits(req.Limits); err != nil {
		// the parent's wall-clock timeout still applies
		log.Warn("sandbox: could not apply resource limits", "error", err)
	}
	if req.Limits.MemoryMB > 0 {
		// keep the GC ahead of RLIMIT_AS
		debug.SetMemoryLimit(int64(req.Limits.memoryBytes()) * 9 / 10)
	}

	xcpu := make(chan os.Signal, 1)
	signal.Notify(xcpu, unix.SIGXCPU)
	defer signal.Stop(xcpu)
	go func() {
		if _, ok := <-xcpu; !ok {
			return
		}
		_ = w.write(Response{ErrorCode: apperr.ProcessingTimeout, Error: "cpu time limit exceeded"})
		os.Exit(exitCPULimit)
	}()

	ctx := context.Background()
	if budget := req.Limits.cpuBudget(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	resp := runExtract(ctx, req, extract)
	if resp.Error != "" {
		log.Warn("sandbox: extraction failed", "error_code", resp.ErrorCode, "error", resp.Error)
	}
	if err := w.write(resp); err != nil {
		log.Error("sandbox: could not write response", "error", err)
		return exitWriteFailed
	}
	return exitOK
}

func runExtract(ctx context.Context, req Request, extract ExtractFunc) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			resp = Response{ErrorCode: apperr.Internal, Error: fmt.Sprintf("panic: %v", p)}
		}
	}()

	fi, err := os.Stat(req.FilePath)
	if err != nil {
		return Response{ErrorCode: apperr.IOFailure, Error: err.Error()}
	}
	if limit := req.Limits.fileSizeBytes(); limit > 0 && fi.Size() > limit {
		return Response{ErrorCode: apperr.FileTooLarge, Error: fmt.Sprintf("file too large: %d bytes (max %d)", fi.Size(), limit)}
	}

	model, err := extract(ctx, req)
	if err != nil {
		return Response{ErrorCode: apperr.CodeOf(err), Error: err.Error()}
	}
	if n := req.Limits.MaxElements; n > 0 && len(model.Elements) > n {
		return Response{ErrorCode: apperr.TooManyElements, Error: fmt.Sprintf("too many elements: %d (max %d)", len(model.Elements), n)}
	}
	return Response{Model: model}
}

// applyLimits sets the address-space, CPU, output-file and core-dump limits
// on the calling process. The CPU hard limit sits one second above the soft
// one so SIGXCPU arrives before SIGKILL.
func applyLimits(l Limits) error {
	set := func(resource int, soft, hard uint64) error {
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: soft, Max: hard}); err != nil {
			return fmt.Errorf("setrlimit %d: %w", resource, err)
		}
		return nil
	}
	if l.MemoryMB > 0 {
		if err := set(unix.RLIMIT_AS, l.memoryBytes(), l.memoryBytes()); err != nil {
			return err
		}
	}
	if l.CPUSeconds > 0 {
		if err := set(unix.RLIMIT_CPU, uint64(l.CPUSeconds), uint64(l.CPUSeconds)+1); err != nil {
			return err
		}
	}
	if l.FileSizeMB > 0 {
		if err := set(unix.RLIMIT_FSIZE, uint64(l.fileSizeBytes()), uint64(l.fileSizeBytes())); err != nil {
			return err
		}
	}
	return set(unix.RLIMIT_CORE, 0, 0)
}

// onceWriter lets the SIGXCPU handler and the main path race to answer; only
// the first response is written.
type onceWriter struct {
	once sync.Once
	out  io.Writer
}

func (w *onceWriter) write(r Response) error {
	err := fmt.Errorf("response already written")
	w.once.Do(func() {
		err = json.NewEncoder(w.out).Encode(r)
	})
	return err
}
