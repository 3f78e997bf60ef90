package repos

import (
	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos/project"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type ProjectRepo = project.ProjectRepo
type ProjectCostRepo = project.ProjectCostRepo
type ActivityLogRepo = project.ActivityLogRepo

type IFCModelRepo = project.IFCModelRepo
type ElementRepo = project.ElementRepo
type ConflictRepo = project.ConflictRepo
type SolutionRepo = project.SolutionRepo

type JobRunRepo = jobs.JobRunRepo

func NewProjectRepo(db *gorm.DB, baseLog *logger.Logger) ProjectRepo {
	return project.NewProjectRepo(db, baseLog)
}
func NewProjectCostRepo(db *gorm.DB, baseLog *logger.Logger) ProjectCostRepo {
	return project.NewProjectCostRepo(db, baseLog)
}
func NewActivityLogRepo(db *gorm.DB, baseLog *logger.Logger) ActivityLogRepo {
	return project.NewActivityLogRepo(db, baseLog)
}

func NewIFCModelRepo(db *gorm.DB, baseLog *logger.Logger) IFCModelRepo {
	return project.NewIFCModelRepo(db, baseLog)
}
func NewElementRepo(db *gorm.DB, baseLog *logger.Logger) ElementRepo {
	return project.NewElementRepo(db, baseLog)
}
func NewConflictRepo(db *gorm.DB, baseLog *logger.Logger) ConflictRepo {
	return project.NewConflictRepo(db, baseLog)
}
func NewSolutionRepo(db *gorm.DB, baseLog *logger.Logger) SolutionRepo {
	return project.NewSolutionRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}

// Set bundles every repository over one database handle.
type Set struct {
	Projects     ProjectRepo
	ProjectCosts ProjectCostRepo
	Activity     ActivityLogRepo
	Models       IFCModelRepo
	Elements     ElementRepo
	Conflicts    ConflictRepo
	Solutions    SolutionRepo
	JobRuns      JobRunRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) *Set {
	return &Set{
		Projects:     NewProjectRepo(db, baseLog),
		ProjectCosts: NewProjectCostRepo(db, baseLog),
		Activity:     NewActivityLogRepo(db, baseLog),
		Models:       NewIFCModelRepo(db, baseLog),
		Elements:     NewElementRepo(db, baseLog),
		Conflicts:    NewConflictRepo(db, baseLog),
		Solutions:    NewSolutionRepo(db, baseLog),
		JobRuns:      NewJobRunRepo(db, baseLog),
	}
}
