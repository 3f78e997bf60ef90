package project

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ConflictDetected   = "detected"
	ConflictResolved   = "resolved"
	ConflictSuperseded = "superseded"
)

// Conflict is unique per (project, pair signature); the signature is a digest
// of the two element global ids in sorted order.
type Conflict struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_conflict_project_pair,priority:1" json:"project_id"`
	PairSignature string    `gorm:"column:pair_signature;not null;uniqueIndex:idx_conflict_project_pair,priority:2" json:"pair_signature"`
	IFCModelID    uuid.UUID `gorm:"type:uuid;not null;index" json:"ifc_model_id"`
	ContentHash   string    `gorm:"column:content_hash;index" json:"content_hash,omitempty"`
	ConflictType  string    `gorm:"column:conflict_type;not null" json:"conflict_type"`
	Severity      string    `gorm:"column:severity;not null;index" json:"severity"`
	Description   string    `gorm:"column:description" json:"description"`
	Status        string    `gorm:"column:status;not null;index" json:"status"`
	CreatedAt     time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Conflict) TableName() string { return "conflict" }

func (c *Conflict) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = ConflictDetected
	}
	return nil
}

// ConflictElement is the conflict <-> element join row.
type ConflictElement struct {
	ConflictID uuid.UUID `gorm:"type:uuid;primaryKey" json:"conflict_id"`
	ElementID  uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"element_id"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (ConflictElement) TableName() string { return "conflict_element" }

// Solution is unique per (conflict, solution type). EstimatedCost is in cents.
type Solution struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConflictID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_solution_conflict_type,priority:1" json:"conflict_id"`
	SolutionType    string    `gorm:"column:solution_type;not null;uniqueIndex:idx_solution_conflict_type,priority:2" json:"solution_type"`
	IFCModelID      uuid.UUID `gorm:"type:uuid;not null;index" json:"ifc_model_id"`
	ContentHash     string    `gorm:"column:content_hash" json:"content_hash,omitempty"`
	Description     string    `gorm:"column:description" json:"description"`
	EstimatedCost   int64     `gorm:"column:estimated_cost;not null" json:"estimated_cost"`
	EstimatedTime   int       `gorm:"column:estimated_time;not null" json:"estimated_time"`
	ConfidenceScore int       `gorm:"column:confidence_score;not null;index" json:"confidence_score"`
	Rank            int       `gorm:"column:rank;not null" json:"rank"`
	Status          string    `gorm:"column:status;not null" json:"status"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (Solution) TableName() string { return "solution" }

func (s *Solution) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = "proposed"
	}
	return nil
}
