// Package quota enforces the per-tenant daily send cap. The check and the
// increment happen atomically so concurrent sends can never push a tenant
// past its limit. With redis configured the counter lives there behind a Lua
// script; otherwise a single-statement guarded UPDATE against the database
// provides the same property.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-platform/internal/apperr"
	"whatsapp-platform/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// checkAndIncr increments the day counter only while it is below the limit.
// Returns 1 when the send is admitted, 0 when the quota is exhausted.
var checkAndIncr = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
    redis.call('DECR', KEYS[1])
    return 0
end
return 1
`)

type Guard struct {
	db           *gorm.DB
	rdb          *redis.Client
	defaultLimit int
}

// NewGuard builds a quota guard. rdb may be nil, in which case the database
// counter is used.
func NewGuard(db *gorm.DB, rdb *redis.Client, defaultLimit int) *Guard {
	return &Guard{db: db, rdb: rdb, defaultLimit: defaultLimit}
}

func (g *Guard) limitFor(tenant *models.Tenant) int {
	if tenant.DayQuota > 0 {
		return tenant.DayQuota
	}
	return g.defaultLimit
}

func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// CheckAndIncrement admits one outbound send or rejects it with a distinct
// quota-exceeded error before any provider call is made.
func (g *Guard) CheckAndIncrement(ctx context.Context, tenant *models.Tenant) error {
	limit := g.limitFor(tenant)
	today := day(time.Now())

	if g.rdb != nil {
		key := fmt.Sprintf("quota:%d:%s", tenant.ID, today)
		// 48h TTL keeps yesterday's key around long enough for reporting
		// while guaranteeing expiry.
		admitted, err := checkAndIncr.Run(ctx, g.rdb, []string{key}, limit, 48*3600).Int()
		if err == nil {
			if admitted == 0 {
				return apperr.QuotaExceeded(fmt.Sprintf("daily quota of %d messages reached", limit))
			}
			return nil
		}
		// Redis being down must not block sends; fall through to the DB counter.
	}

	return g.dbCheckAndIncrement(ctx, tenant.ID, today, limit)
}

func (g *Guard) dbCheckAndIncrement(ctx context.Context, tenantID uint, today string, limit int) error {
	db := g.db.WithContext(ctx)

	// Make sure the day row exists; a concurrent insert loses quietly.
	err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.QuotaCounter{TenantID: tenantID, Day: today}).Error
	if err != nil {
		return fmt.Errorf("init quota counter: %w", err)
	}

	res := db.Model(&models.QuotaCounter{}).
		Where("tenant_id = ? AND day = ? AND count < ?", tenantID, today, limit).
		UpdateColumn("count", gorm.Expr("count + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment quota counter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.QuotaExceeded(fmt.Sprintf("daily quota of %d messages reached", limit))
	}
	return nil
}

// Used returns today's counter for a tenant, for dashboard display.
func (g *Guard) Used(ctx context.Context, tenantID uint) (int, error) {
	today := day(time.Now())

	if g.rdb != nil {
		key := fmt.Sprintf("quota:%d:%s", tenantID, today)
		if n, err := g.rdb.Get(ctx, key).Int(); err == nil {
			return n, nil
		}
	}

	var counter models.QuotaCounter
	err := g.db.WithContext(ctx).
		Where("tenant_id = ? AND day = ?", tenantID, today).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Count, nil
}
