// Package sandbox runs IFC extraction for untrusted files in a separate,
// resource-limited process.
//
// The parent writes one JSON Request to the child's stdin and reads one JSON
// Response from its stdout. Anything the child logs goes to stderr. A child
// that dies without answering is classified from its exit status.
package sandbox

import (
	"time"

	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
)

// Child exit codes. Zero means a Response was written, whatever its outcome.
const (
	exitOK          = 0
	exitBadRequest  = 64
	exitWriteFailed = 65
	exitCPULimit    = 66
)

type Limits struct {
	MemoryMB    int           `json:"memory_mb"`
	CPUSeconds  int           `json:"cpu_seconds"`
	FileSizeMB  int           `json:"file_size_mb"`
	MaxElements int           `json:"max_elements"`
	GracePeriod time.Duration `json:"grace_period"`
}

func LimitsFromConfig(c config.Sandbox) Limits {
	return Limits{
		MemoryMB:    c.MemoryMB,
		CPUSeconds:  c.CPUSeconds,
		FileSizeMB:  c.FileSizeMB,
		MaxElements: c.MaxElements,
		GracePeriod: c.GracePeriod,
	}
}

func (l Limits) memoryBytes() uint64 { return uint64(l.MemoryMB) << 20 }
func (l Limits) fileSizeBytes() int64 { return int64(l.FileSizeMB) << 20 }
func (l Limits) cpuBudget() time.Duration { return time.Duration(l.CPUSeconds) * time.Second }

type Request struct {
	FilePath string `json:"file_path"`
	Limits   Limits `json:"limits"`
}

type Response struct {
	Model     *bim.ExtractedModel `json:"model,omitempty"`
	ErrorCode apperr.Code         `json:"error_code,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func (r Response) err() error {
	if r.ErrorCode == "" && r.Error == "" {
		return nil
	}
	code := r.ErrorCode
	if !code.Valid() {
		code = apperr.SandboxFailure
	}
	return apperr.Newf(code, "sandbox.child", "%s", r.Error)
}
