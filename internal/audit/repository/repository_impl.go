package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/fieldbill/internal/audit/domain"
	"github.com/smallbiznis/fieldbill/pkg/db/option"
	"github.com/smallbiznis/fieldbill/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return repository.ProvideStore[domain.AuditLog](db).Create(ctx, entry)
}

// List matches the non-empty filter fields exactly, newest first.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	query := &domain.AuditLog{
		Action:     strings.TrimSpace(filter.Action),
		TargetType: strings.TrimSpace(filter.TargetType),
		TargetID:   strings.TrimSpace(filter.TargetID),
	}
	return repository.ProvideStore[domain.AuditLog](db).Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{}),
		option.WithLimit(filter.Limit),
	)
}
