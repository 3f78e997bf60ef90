package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/domain"
)

func SeedProject(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *domain.Project {
	tb.Helper()
	p := &domain.Project{
		ID:   uuid.New(),
		Name: name,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed project: %v", err)
	}
	return p
}

func SeedModel(tb testing.TB, ctx context.Context, tx *gorm.DB, projectID uuid.UUID, path string) *domain.IFCModel {
	tb.Helper()
	m := &domain.IFCModel{
		ID:        uuid.New(),
		ProjectID: projectID,
		Filename:  "model.ifc",
		FilePath:  path,
		Status:    domain.ModelUploaded,
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed model: %v", err)
	}
	return m
}

func SeedElement(tb testing.TB, ctx context.Context, tx *gorm.DB, modelID uuid.UUID, globalID, elementType string) *domain.Element {
	tb.Helper()
	e := &domain.Element{
		ID:          uuid.New(),
		IFCModelID:  modelID,
		GlobalID:    globalID,
		ElementType: elementType,
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed element: %v", err)
	}
	return e
}
