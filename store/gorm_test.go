package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		db.Exec("DELETE FROM block_records")
		db.Exec("DELETE FROM trusted_entries")
		db.Exec("DELETE FROM violation_records")
	})
	return db
}

func TestGormBlockStore_FindAbsent(t *testing.T) {
	s := NewGormBlockStore(testDB(t))

	rec, err := s.Find(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGormBlockStore_UpsertAndFind(t *testing.T) {
	s := NewGormBlockStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := &BlockRecord{
		IP:             "203.0.113.9",
		BlockedAt:      now,
		BlockedUntil:   now.Add(time.Hour),
		ViolationCount: 10,
		EndpointClass:  "auth",
		LastPath:       "/accounts/login",
		Reason:         "auto-blocked after 10 violations",
		Active:         true,
	}
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Find(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Active)
	assert.Equal(t, 10, got.ViolationCount)

	// Upsert on the same IP replaces the mutable fields, keeping one row.
	rec2 := *rec
	rec2.ID = 0
	rec2.ViolationCount = 11
	rec2.BlockedUntil = now.Add(2 * time.Hour)
	require.NoError(t, s.Upsert(ctx, &rec2))

	recs, err := s.List(ctx, BlockFilter{IP: "203.0.113.9"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 11, recs[0].ViolationCount)
}

func TestGormBlockStore_DeactivateIdempotent(t *testing.T) {
	s := NewGormBlockStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, &BlockRecord{
		IP:           "203.0.113.9",
		BlockedAt:    now,
		BlockedUntil: now.Add(time.Hour),
		Reason:       "auto-blocked",
		Active:       true,
	}))

	changed, err := s.Deactivate(ctx, "203.0.113.9", "manual unblock by operator")
	require.NoError(t, err)
	assert.True(t, changed)

	// Second call: same end state, no error, no change reported.
	changed, err = s.Deactivate(ctx, "203.0.113.9", "manual unblock by operator")
	require.NoError(t, err)
	assert.False(t, changed)

	rec, err := s.Find(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Active)
	assert.Contains(t, rec.Reason, "manual unblock by operator")

	// Unknown IP: not an error either.
	changed, err = s.Deactivate(ctx, "198.51.100.1", "noop")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestGormBlockStore_DeactivateExpired(t *testing.T) {
	s := NewGormBlockStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, &BlockRecord{
		IP: "203.0.113.1", BlockedAt: now.Add(-2 * time.Hour),
		BlockedUntil: now.Add(-time.Hour), Active: true,
	}))
	require.NoError(t, s.Upsert(ctx, &BlockRecord{
		IP: "203.0.113.2", BlockedAt: now,
		BlockedUntil: now.Add(time.Hour), Active: true,
	}))

	n, err := s.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := s.List(ctx, BlockFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "203.0.113.2", active[0].IP)
}

func TestGormTrustStore_ActiveIPs(t *testing.T) {
	s := NewGormTrustStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(ctx, "10.0.0.1", "office"))
	require.NoError(t, s.Upsert(ctx, "10.0.0.2", "monitoring"))

	past := now.Add(-time.Hour)
	expired := TrustedEntry{IP: "10.0.0.3", Description: "contractor", Active: true, ExpiresAt: &past}
	require.NoError(t, s.db.WithContext(ctx).Create(&expired).Error)

	ips, err := s.ActiveIPs(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, ips)

	// Upsert is idempotent and reactivates.
	require.NoError(t, s.Upsert(ctx, "10.0.0.1", "office, renamed"))
	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestGormTrustStore_DeactivateExpired(t *testing.T) {
	s := NewGormTrustStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	require.NoError(t, s.db.Create(&TrustedEntry{IP: "10.0.0.3", Active: true, ExpiresAt: &past}).Error)
	require.NoError(t, s.Upsert(ctx, "10.0.0.4", "permanent"))

	n, err := s.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ips, err := s.ActiveIPs(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.4"}, ips)
}

func TestGormViolationStore_AppendAndSummaries(t *testing.T) {
	s := NewGormViolationStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []ViolationRecord{
		{Timestamp: now, ClientIP: "203.0.113.1", EndpointClass: "auth", Reason: ReasonIPQuota, RequestCount: 5, Limit: 5},
		{Timestamp: now, ClientIP: "203.0.113.1", EndpointClass: "auth", Reason: ReasonIPQuota, RequestCount: 6, Limit: 5},
		{Timestamp: now, ClientIP: "203.0.113.1", EndpointClass: "api", Reason: ReasonIPQuota, RequestCount: 101, Limit: 100},
		{Timestamp: now, ClientIP: "203.0.113.2", EndpointClass: "api", Reason: ReasonIdentityQuota, RequestCount: 101, Limit: 100},
		{Timestamp: now.Add(-48 * time.Hour), ClientIP: "203.0.113.3", EndpointClass: "api", Reason: ReasonIPQuota, RequestCount: 101, Limit: 100},
	}
	for i := range rows {
		require.NoError(t, s.Append(ctx, &rows[i]))
	}

	since := now.Add(-24 * time.Hour)

	top, err := s.TopOffenders(ctx, since, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "203.0.113.1", top[0].ClientIP)
	assert.Equal(t, int64(3), top[0].Violations)

	byClass, err := s.CountByClass(ctx, since)
	require.NoError(t, err)
	require.Len(t, byClass, 2)

	total, err := s.CountSince(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestGormViolationStore_Retention(t *testing.T) {
	s := NewGormViolationStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	old := ViolationRecord{Timestamp: now.AddDate(0, 0, -91), ClientIP: "203.0.113.1", EndpointClass: "api", Reason: ReasonIPQuota}
	fresh := ViolationRecord{Timestamp: now, ClientIP: "203.0.113.2", EndpointClass: "api", Reason: ReasonIPQuota}
	require.NoError(t, s.Append(ctx, &old))
	require.NoError(t, s.Append(ctx, &fresh))

	removed, err := s.DeleteOlderThan(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	total, err := s.CountSince(ctx, now.AddDate(0, 0, -365))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
