//go:build integration

package orders

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	"github.com/covercraft/covercraft-backend/pkg/migrate"
)

func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "covercraft",
				"POSTGRES_PASSWORD": "covercraft",
				"POSTGRES_DB":       "covercraft",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://covercraft:covercraft@%s:%s/covercraft?sslmode=disable", host, port.Port())

	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, sqlDB.PingContext(ctx))
	fsys, err := migrate.Source("")
	require.NoError(t, err)
	runner, err := migrate.NewRunner(sqlDB, fsys)
	require.NoError(t, err)
	_, err = runner.Up(ctx)
	require.NoError(t, err)

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	return conn
}

func TestPostgresPaidRace(t *testing.T) {
	repo := NewRepository(setupPostgres(t))
	ctx := context.Background()
	order := sampleOrder(enums.OrderKindStandard, uuid.New())
	require.NoError(t, repo.Create(ctx, order))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.MarkPaid(ctx, refOf(order), PaidUpdate{GatewayPaymentID: "pay_pg", PaidAt: time.Now()})
			if assert.NoError(t, err) && won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestPostgresShipmentUniqueness(t *testing.T) {
	repo := NewRepository(setupPostgres(t))
	ctx := context.Background()

	first := sampleOrder(enums.OrderKindStandard, uuid.New())
	require.NoError(t, repo.Create(ctx, first))
	second := sampleOrder(enums.OrderKindCustom, uuid.New())
	require.NoError(t, repo.Create(ctx, second))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, won, err := repo.ClaimShipment(ctx, refOf(first))
			if assert.NoError(t, err) && won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())

	firstRow, err := repo.GetShipment(ctx, first.ID)
	require.NoError(t, err)
	ok, err := repo.RecordCarrierShipment(ctx, firstRow.ID, 555, 1)
	require.NoError(t, err)
	require.True(t, ok)

	secondRow, _, err := repo.ClaimShipment(ctx, refOf(second))
	require.NoError(t, err)
	_, err = repo.RecordCarrierShipment(ctx, secondRow.ID, 555, 2)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, "ux_shipments_shipment_id"))
}
