package pipeline

import (
	"github.com/vitruvius-bim/vitruvius-backend/internal/cache"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the outcome of one Process call. Counts are zero on failure.
type Result struct {
	Status             Status               `json:"status"`
	ProjectID          string               `json:"project_id"`
	ModelID            string               `json:"ifc_model_id"`
	ConflictsDetected  int                  `json:"conflicts_detected"`
	SolutionsGenerated int                  `json:"solutions_generated"`
	FileHash           string               `json:"file_hash,omitempty"`
	CacheUsed          bool                 `json:"cache_used"`
	CacheHits          []cache.ArtifactKind `json:"cache_hits,omitempty"`
	ErrorCode          apperr.Code          `json:"error_code,omitempty"`
	Error              string               `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Status == StatusCompleted }

// ModelStatusFor maps a failure code to the model status recorded for it.
// Timeouts and resource-limit kills come from isolated extraction and are
// reported as translation failures.
func ModelStatusFor(code apperr.Code) domain.ModelStatus {
	switch code {
	case apperr.ProcessingTimeout:
		return domain.ModelTranslationTimeout
	case apperr.MemoryLimitExceeded, apperr.FileTooLarge, apperr.TooManyElements, apperr.SandboxFailure:
		return domain.ModelTranslationFailed
	default:
		return domain.ModelFailed
	}
}
