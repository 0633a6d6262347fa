package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldbill/internal/clock"
	"github.com/smallbiznis/fieldbill/internal/customer/domain"
	obslogger "github.com/smallbiznis/fieldbill/internal/observability/logger"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"github.com/smallbiznis/fieldbill/pkg/db"
	"github.com/smallbiznis/fieldbill/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.ErrInvalidName
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.Customer{}, err
	}

	now := s.clock.Now()
	customer := domain.Customer{
		ID:        s.genID.Generate(),
		Name:      name,
		Email:     email,
		Phone:     strings.TrimSpace(req.Phone),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrEmailTaken.WithEntities(existing.ID.String())
		}
		return s.repo.Insert(ctx, tx, &customer)
	})
	if err != nil {
		return domain.Customer{}, s.translate(ctx, err, "create")
	}

	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Customer, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Customer{}, s.translate(ctx, err, "get")
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound.WithEntities(id.String())
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCustomerRequest) (domain.ListCustomerResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, domain.ListCustomerFilter{
		Name:  strings.TrimSpace(req.Name),
		Email: strings.TrimSpace(req.Email),
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListCustomerResponse{}, s.translate(ctx, err, "list")
	}

	items, pageInfo := pagination.Trim(items, pageSize, func(c *domain.Customer) pagination.Cursor {
		return pagination.Cursor{ID: c.ID.String(), CreatedAt: c.CreatedAt.Format(time.RFC3339Nano)}
	})

	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		customers = append(customers, *item)
	}

	return domain.ListCustomerResponse{PageInfo: pageInfo, Customers: customers}, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateCustomerRequest) (domain.Customer, error) {
	var updated domain.Customer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound.WithEntities(req.ID.String())
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.ErrInvalidName
			}
			current.Name = name
		}
		if req.Email != nil {
			email, err := normalizeEmail(*req.Email)
			if err != nil {
				return err
			}
			if email != current.Email {
				existing, err := s.repo.FindByEmail(ctx, tx, email)
				if err != nil {
					return err
				}
				if existing != nil && existing.ID != current.ID {
					return domain.ErrEmailTaken.WithEntities(existing.ID.String())
				}
			}
			current.Email = email
		}
		if req.Phone != nil {
			current.Phone = strings.TrimSpace(*req.Phone)
		}
		if req.Address != nil {
			current.Address = strings.TrimSpace(*req.Address)
		}
		current.UpdatedAt = s.clock.Now()

		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}
		updated = *current
		return nil
	})
	if err != nil {
		return domain.Customer{}, s.translate(ctx, err, "update")
	}
	return updated, nil
}

// Delete soft-deletes a customer that no longer owns live documents.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound.WithEntities(id.String())
		}
		open, err := s.repo.CountOpenDocuments(ctx, tx, id)
		if err != nil {
			return err
		}
		if open > 0 {
			return domain.ErrHasOpenRecords.WithEntities(id.String())
		}
		return s.repo.SoftDelete(ctx, tx, id)
	})
	return s.translate(ctx, err, "delete")
}

func (s *Service) translate(ctx context.Context, err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrEmailTaken.Wrap(err)
	}
	obslogger.WithContext(ctx, s.log).Error("customer operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Unexpected(err)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}
