package orders

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockRepo binds the repository to the postgres dialect so the emitted
// guards can be checked against the statements production runs.
func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewRepository(conn), mock
}

func TestMarkPaidStatementIsGuarded(t *testing.T) {
	repo, mock := newMockRepo(t)
	ref := StandardRef(uuid.New())

	query := regexp.QuoteMeta(`UPDATE "orders" SET `) + `.*"payment_status"=.*` +
		`WHERE id = \$\d+ AND payment_status IN \(\$\d+,\$\d+\)`
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.MarkPaid(context.Background(), ref, PaidUpdate{GatewayPaymentID: "pay_1", PaidAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkPaid(context.Background(), ref, PaidUpdate{GatewayPaymentID: "pay_1", PaidAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomOrdersUseTheirOwnTable(t *testing.T) {
	repo, mock := newMockRepo(t)
	ref := CustomRef(uuid.New())

	query := regexp.QuoteMeta(`UPDATE "custom_orders" SET `) + `.*` +
		regexp.QuoteMeta(`WHERE id = $4 AND payment_status = $5`)
	mock.ExpectExec(query).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), ref.ID, "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkPaymentFailed(context.Background(), ref, "declined")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRefundIncrementsInDatabase(t *testing.T) {
	repo, mock := newMockRepo(t)
	ref := StandardRef(uuid.New())

	query := regexp.QuoteMeta(`"refund_attempts"=refund_attempts + 1`) + `.*` +
		regexp.QuoteMeta(`refund_status IN ($`) + `.*` + regexp.QuoteMeta(`AND refund_attempts < $`)
	mock.ExpectExec(query).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.ClaimRefund(context.Background(), ref, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryPropagatesDriverErrors(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`UPDATE "orders"`).WillReturnError(assert.AnError)

	_, err := repo.Transition(context.Background(), StandardRef(uuid.New()), StatusesBefore("standard", "shipped"), "shipped", nil)
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}
