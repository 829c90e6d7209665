package storage

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/decentraland/profile-images/internal/contracts"
)

const (
	keyRendered = "profile-images:rendered:"

	renderedTTL = 7 * 24 * time.Hour

	// localCacheSize caps the process-local fast path used without Redis
	localCacheSize = 10000
)

// ProfileSnapshot records the newest rendered snapshot of an entity
type ProfileSnapshot struct {
	EntityID        string    `gorm:"primaryKey;size:128"`
	EntityTimestamp int64     `gorm:"not null"`
	RenderedAt      time.Time `gorm:"not null;index"`
}

// TableName returns the table name for ProfileSnapshot
func (ProfileSnapshot) TableName() string {
	return "profile_snapshots"
}

// RenderFailure records an entity the worker gave up on
type RenderFailure struct {
	ID       uint      `gorm:"primaryKey"`
	EntityID string    `gorm:"size:128;not null;index"`
	Error    string    `gorm:"type:text"`
	FailedAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for RenderFailure
func (RenderFailure) TableName() string {
	return "render_failures"
}

// Ledger tracks rendered snapshots using Redis as the fast path and the
// database for durability. Both backends are optional; without Redis a
// process-local LRU holding at most localCacheSize entries for renderedTTL
// is used.
type Ledger struct {
	redis  *redis.Client
	db     *gorm.DB
	logger zerolog.Logger

	local *localCache
}

// NewLedger creates a new snapshot ledger. redisClient and db may be nil.
func NewLedger(redisClient *redis.Client, db *gorm.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{
		redis:  redisClient,
		db:     db,
		logger: logger.With().Str("component", "ledger").Logger(),
		local:  newLocalCache(localCacheSize, renderedTTL),
	}
}

// IsRendered reports whether a snapshot at entityTimestamp or newer exists
func (l *Ledger) IsRendered(ctx context.Context, entityID string, entityTimestamp int64) (bool, error) {
	// Fast path
	if ts, ok := l.cached(ctx, entityID); ok {
		return ts >= entityTimestamp, nil
	}

	if l.db == nil {
		return false, nil
	}

	var snapshot ProfileSnapshot
	err := l.db.WithContext(ctx).Where("entity_id = ?", entityID).Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("database check failed: %w", err)
	}

	// Populate the fast path for next time
	l.cache(ctx, entityID, snapshot.EntityTimestamp)
	return snapshot.EntityTimestamp >= entityTimestamp, nil
}

// MarkRendered records a successful snapshot
func (l *Ledger) MarkRendered(ctx context.Context, entityID string, entityTimestamp int64) error {
	l.cache(ctx, entityID, entityTimestamp)

	if l.db == nil {
		return nil
	}

	snapshot := ProfileSnapshot{
		EntityID:        entityID,
		EntityTimestamp: entityTimestamp,
		RenderedAt:      time.Now(),
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"entity_timestamp", "rendered_at"}),
	}).Create(&snapshot).Error
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// MarkFailed records a final render failure
func (l *Ledger) MarkFailed(ctx context.Context, entityID, reason string) error {
	if l.db == nil {
		l.logger.Debug().Str("entity", entityID).Str("error", reason).Msg("Render failure not persisted, no database configured")
		return nil
	}

	failure := RenderFailure{
		EntityID: entityID,
		Error:    reason,
		FailedAt: time.Now(),
	}
	if err := l.db.WithContext(ctx).Create(&failure).Error; err != nil {
		return fmt.Errorf("failed to record render failure: %w", err)
	}
	return nil
}

// Cleanup removes failure records older than the given number of days
func (l *Ledger) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if l.db == nil {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	result := l.db.WithContext(ctx).
		Where("failed_at < ?", cutoff).
		Delete(&RenderFailure{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup failed: %w", result.Error)
	}

	l.logger.Info().
		Int64("deleted", result.RowsAffected).
		Int("older_than_days", olderThanDays).
		Msg("Cleaned up render failures")

	return result.RowsAffected, nil
}

// AutoMigrate creates or updates the ledger tables
func (l *Ledger) AutoMigrate() error {
	if l.db == nil {
		return nil
	}
	return l.db.AutoMigrate(&ProfileSnapshot{}, &RenderFailure{})
}

func (l *Ledger) cached(ctx context.Context, entityID string) (int64, bool) {
	if l.redis == nil {
		return l.local.get(entityID)
	}

	val, err := l.redis.Get(ctx, keyRendered+entityID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.logger.Warn().Str("entity", entityID).Err(err).Msg("Redis check failed, falling back to database")
		}
		return 0, false
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

func (l *Ledger) cache(ctx context.Context, entityID string, entityTimestamp int64) {
	if l.redis == nil {
		l.local.put(entityID, entityTimestamp)
		return
	}

	if err := l.redis.Set(ctx, keyRendered+entityID, strconv.FormatInt(entityTimestamp, 10), renderedTTL).Err(); err != nil {
		l.logger.Warn().Str("entity", entityID).Err(err).Msg("Failed to set Redis rendered key")
	}
}

type localEntry struct {
	entityID  string
	timestamp int64
	expiresAt time.Time
}

// localCache is a size and TTL bounded LRU of rendered timestamps
type localCache struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	now   func() time.Time
	order *list.List
	items map[string]*list.Element
}

func newLocalCache(size int, ttl time.Duration) *localCache {
	return &localCache{
		size:  size,
		ttl:   ttl,
		now:   time.Now,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *localCache) get(entityID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[entityID]
	if !ok {
		return 0, false
	}
	entry := elem.Value.(*localEntry)
	if !c.now().Before(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.items, entityID)
		return 0, false
	}
	c.order.MoveToFront(elem)
	return entry.timestamp, true
}

// put keeps the newest timestamp seen for an entity and refreshes its TTL
func (c *localCache) put(entityID string, timestamp int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if elem, ok := c.items[entityID]; ok {
		entry := elem.Value.(*localEntry)
		if timestamp > entry.timestamp || !c.now().Before(entry.expiresAt) {
			entry.timestamp = timestamp
		}
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	c.items[entityID] = c.order.PushFront(&localEntry{entityID: entityID, timestamp: timestamp, expiresAt: expiresAt})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*localEntry).entityID)
	}
}

func (c *localCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

var _ contracts.Ledger = (*Ledger)(nil)
