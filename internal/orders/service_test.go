package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercraft/covercraft-backend/pkg/auth"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/pagination"
)

func TestServiceGetHidesForeignOrders(t *testing.T) {
	repo := newTestRepo(t)
	svc, err := NewService(repo)
	require.NoError(t, err)
	ctx := context.Background()

	owner := uuid.New()
	order := sampleOrder(enums.OrderKindCustom, owner)
	require.NoError(t, repo.Create(ctx, order))

	got, err := svc.Get(ctx, auth.Principal{UserID: owner, Role: enums.RoleUser}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderKindCustom, got.Kind)

	_, err = svc.Get(ctx, auth.Principal{UserID: uuid.New(), Role: enums.RoleUser}, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Get(ctx, auth.Principal{UserID: uuid.New(), Role: enums.RoleAdmin}, order.ID)
	assert.NoError(t, err)

	_, err = svc.Get(ctx, auth.Principal{UserID: owner, Role: enums.RoleUser}, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Get(ctx, auth.Principal{UserID: owner, Role: enums.RoleUser}, uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestServiceListings(t *testing.T) {
	repo := newTestRepo(t)
	svc, err := NewService(repo)
	require.NoError(t, err)
	ctx := context.Background()

	me := uuid.New()
	require.NoError(t, repo.Create(ctx, sampleOrder(enums.OrderKindStandard, me)))
	require.NoError(t, repo.Create(ctx, sampleOrder(enums.OrderKindStandard, uuid.New())))
	require.NoError(t, repo.Create(ctx, sampleOrder(enums.OrderKindCustom, me)))

	mine, err := svc.ListMine(ctx, auth.Principal{UserID: me, Role: enums.RoleUser}, enums.OrderKindStandard, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, mine.Items, 1)

	custom, err := svc.ListMine(ctx, auth.Principal{UserID: me, Role: enums.RoleUser}, enums.OrderKindCustom, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, custom.Items, 1)
	assert.Equal(t, enums.OrderKindCustom, custom.Items[0].Kind)

	all, err := svc.ListAll(ctx, ListFilter{}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)

	_, err = svc.ListMine(ctx, auth.Principal{}, enums.OrderKindStandard, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	bad := enums.OrderStatusInProduction
	_, err = svc.ListAll(ctx, ListFilter{Kind: enums.OrderKindStandard, Status: &bad}, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.ListAll(ctx, ListFilter{}, pagination.Params{Cursor: "not-base64!"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.ListAll(ctx, ListFilter{Kind: "bulk"}, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceRequiresRepo(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
}

func TestOrderDTOMirrorsRupees(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	order := sampleOrder(enums.OrderKindStandard, uuid.New())
	require.NoError(t, repo.Create(ctx, order))

	loaded, err := repo.Get(ctx, refOf(order))
	require.NoError(t, err)
	dto := NewOrderDTO(loaded)
	assert.Equal(t, "598", dto.Total.String())
	require.Len(t, dto.Items, 1)
}
