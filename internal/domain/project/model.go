package project

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ModelStatus is the processing state of an uploaded IFC model. It is the
// single source of truth callers poll.
type ModelStatus string

const (
	ModelUploaded           ModelStatus = "uploaded"
	ModelProcessing         ModelStatus = "processing"
	ModelProcessed          ModelStatus = "processed"
	ModelFailed             ModelStatus = "failed"
	ModelTranslationFailed  ModelStatus = "translation_failed"
	ModelTranslationTimeout ModelStatus = "translation_timeout"
)

func (s ModelStatus) Terminal() bool {
	switch s {
	case ModelProcessed, ModelFailed, ModelTranslationFailed, ModelTranslationTimeout:
		return true
	default:
		return false
	}
}

type IFCModel struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID    uuid.UUID   `gorm:"type:uuid;not null;index" json:"project_id"`
	Filename     string      `gorm:"column:filename;not null" json:"filename"`
	FilePath     string      `gorm:"column:file_path;not null;index" json:"file_path"`
	FileSize     int64       `gorm:"column:file_size" json:"file_size"`
	ContentHash  string      `gorm:"column:content_hash;index" json:"content_hash,omitempty"`
	Status       ModelStatus `gorm:"column:status;not null;index" json:"status"`
	ErrorMessage string      `gorm:"column:error_message" json:"error_message,omitempty"`
	ProcessedAt  *time.Time  `gorm:"column:processed_at" json:"processed_at,omitempty"`
	CreatedAt    time.Time   `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null" json:"updated_at"`
}

func (IFCModel) TableName() string { return "ifc_model" }

func (m *IFCModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = ModelUploaded
	}
	return nil
}

type Element struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	IFCModelID  uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_element_model_gid,priority:1" json:"ifc_model_id"`
	GlobalID    string         `gorm:"column:global_id;not null;uniqueIndex:idx_element_model_gid,priority:2" json:"global_id"`
	ElementType string         `gorm:"column:element_type;not null;index" json:"element_type"`
	IFCType     string         `gorm:"column:ifc_type" json:"ifc_type"`
	Name        string         `gorm:"column:name" json:"name,omitempty"`
	Description string         `gorm:"column:description" json:"description,omitempty"`
	HasGeometry bool           `gorm:"column:has_geometry;not null" json:"has_geometry"`
	Properties  datatypes.JSON `gorm:"column:properties" json:"properties,omitempty"`
	Geometry    datatypes.JSON `gorm:"column:geometry" json:"geometry,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (Element) TableName() string { return "element" }

func (e *Element) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
