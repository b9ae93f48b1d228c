package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/pagination"
)

// Service is the read side of the order store used by the API.
type Service interface {
	Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*models.Order, error)
	ListMine(ctx context.Context, principal auth.Principal, kind enums.OrderKind, params pagination.Params) (pagination.Page[models.Order], error)
	ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	return &service{repo: repo}, nil
}

// Get returns an order the principal may see. Orders owned by someone else
// are reported as missing.
func (s *service) Get(ctx context.Context, principal auth.Principal, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, MapLoadError(err)
	}
	if !principal.IsAdmin() && order.UserID != principal.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListMine(ctx context.Context, principal auth.Principal, kind enums.OrderKind, params pagination.Params) (pagination.Page[models.Order], error) {
	if principal.UserID == uuid.Nil {
		return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	user := principal.UserID
	return s.list(ctx, ListFilter{Kind: kind, UserID: &user}, params)
}

func (s *service) ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	return s.list(ctx, filter, params)
}

func (s *service) list(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid order kind")
	}
	if filter.Status != nil {
		kind := filter.Kind
		if kind == "" {
			kind = enums.OrderKindStandard
		}
		if !filter.Status.IsValidFor(kind) {
			return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
		}
	}
	page, err := s.repo.List(ctx, filter, params)
	if err != nil {
		if _, cursorErr := pagination.ParseCursor(params.Cursor); cursorErr != nil {
			return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return page, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return page, nil
}

// MapLoadError translates a repository read failure.
func MapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
