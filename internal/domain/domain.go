package domain

import (
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/project"
)

type (
	Project         = project.Project
	ProjectCost     = project.ProjectCost
	IFCModel        = project.IFCModel
	ModelStatus     = project.ModelStatus
	Element         = project.Element
	Conflict        = project.Conflict
	ConflictElement = project.ConflictElement
	Solution        = project.Solution
	ActivityLog     = project.ActivityLog
	JobRun          = jobs.JobRun
)

const (
	ModelUploaded           = project.ModelUploaded
	ModelProcessing         = project.ModelProcessing
	ModelProcessed          = project.ModelProcessed
	ModelFailed             = project.ModelFailed
	ModelTranslationFailed  = project.ModelTranslationFailed
	ModelTranslationTimeout = project.ModelTranslationTimeout

	ConflictDetected   = project.ConflictDetected
	ConflictResolved   = project.ConflictResolved
	ConflictSuperseded = project.ConflictSuperseded

	ActivityModelProcessed = project.ActivityModelProcessed
	ActivityModelFailed    = project.ActivityModelFailed
)

// Models lists every persisted row type in migration order.
func Models() []any {
	return []any{
		&Project{},
		&ProjectCost{},
		&IFCModel{},
		&Element{},
		&Conflict{},
		&ConflictElement{},
		&Solution{},
		&ActivityLog{},
		&JobRun{},
	}
}
