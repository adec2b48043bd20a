package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/database"
	"whatsapp-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database alive and serializes writes.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func TestCheckAndIncrementSequential(t *testing.T) {
	db := testDB(t)
	guard := NewGuard(db, nil, 3)
	tenant := &models.Tenant{ID: 1, Name: "acme"}
	require.NoError(t, db.Create(tenant).Error)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, guard.CheckAndIncrement(ctx, tenant))
	}

	err := guard.CheckAndIncrement(ctx, tenant)
	require.Error(t, err)
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))

	used, err := guard.Used(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, used, "rejected send must not consume quota")
}

func TestCheckAndIncrementTenantOverride(t *testing.T) {
	db := testDB(t)
	guard := NewGuard(db, nil, 1000)
	tenant := &models.Tenant{ID: 2, Name: "small", DayQuota: 1}
	require.NoError(t, db.Create(tenant).Error)
	ctx := context.Background()

	require.NoError(t, guard.CheckAndIncrement(ctx, tenant))
	err := guard.CheckAndIncrement(ctx, tenant)
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))
}

func TestCheckAndIncrementConcurrent(t *testing.T) {
	db := testDB(t)
	const limit = 5
	guard := NewGuard(db, nil, limit)
	tenant := &models.Tenant{ID: 3, Name: "busy"}
	require.NoError(t, db.Create(tenant).Error)
	ctx := context.Background()

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := guard.CheckAndIncrement(ctx, tenant); err != nil {
				rejected.Add(1)
			} else {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), admitted.Load())
	assert.Equal(t, int32(15), rejected.Load())

	used, err := guard.Used(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, used)
}

func TestUsedWithoutCounter(t *testing.T) {
	db := testDB(t)
	guard := NewGuard(db, nil, 10)

	used, err := guard.Used(context.Background(), 99)
	require.NoError(t, err)
	assert.Zero(t, used)
}
