package project

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Project struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	Status      string    `gorm:"column:status;not null;index" json:"status"`
	// Connected external tools; a non-empty value makes a successful run request an integration sync.
	PlanningTool string         `gorm:"column:planning_tool" json:"planning_tool,omitempty"`
	BudgetTool   string         `gorm:"column:budget_tool" json:"budget_tool,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Project) TableName() string { return "project" }

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	return nil
}

func (p Project) HasIntegrations() bool {
	return p.PlanningTool != "" || p.BudgetTool != ""
}

// ProjectCost overrides one named cost parameter (LABOR_HOUR, STEEL_KG, ...) for a project.
type ProjectCost struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_cost_param,priority:1" json:"project_id"`
	ParameterName string    `gorm:"column:parameter_name;not null;uniqueIndex:idx_project_cost_param,priority:2" json:"parameter_name"`
	Value         float64   `gorm:"column:value;not null" json:"value"`
	Unit          string    `gorm:"column:unit" json:"unit,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (ProjectCost) TableName() string { return "project_cost" }

func (c *ProjectCost) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
