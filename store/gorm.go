package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate creates or updates the durable tables for block records,
// trusted entries and the violation log.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&BlockRecord{}, &TrustedEntry{}, &ViolationRecord{}); err != nil {
		return fmt.Errorf("abuseshield: migrate durable stores: %w", err)
	}
	return nil
}

// GormBlockStore implements BlockStore on a relational database.
type GormBlockStore struct {
	db *gorm.DB
}

var _ BlockStore = (*GormBlockStore)(nil)

// NewGormBlockStore creates a block store on the given database handle.
func NewGormBlockStore(db *gorm.DB) *GormBlockStore {
	return &GormBlockStore{db: db}
}

// Find returns the block record for ip, or (nil, nil) when none exists.
func (s *GormBlockStore) Find(ctx context.Context, ip string) (*BlockRecord, error) {
	var rec BlockRecord
	err := s.db.WithContext(ctx).Where("ip = ?", ip).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert inserts a record for rec.IP or replaces the mutable fields of an
// existing one. The append-and-mark model keeps the row itself forever.
func (s *GormBlockStore) Upsert(ctx context.Context, rec *BlockRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"blocked_at", "blocked_until", "violation_count",
			"endpoint_class", "last_path", "reason", "active", "updated_at",
		}),
	}).Create(rec).Error
}

// Deactivate flips Active to false and appends an audit note. Idempotent:
// a second call on the same IP changes nothing and returns false.
func (s *GormBlockStore) Deactivate(ctx context.Context, ip, note string) (bool, error) {
	rec, err := s.Find(ctx, ip)
	if err != nil {
		return false, err
	}
	if rec == nil || !rec.Active {
		return false, nil
	}

	updates := map[string]any{"active": false}
	if note != "" {
		updates["reason"] = rec.Reason + "; " + note
	}
	res := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Where("ip = ? AND active = ?", ip, true).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// List returns block records matching the filter, newest first.
func (s *GormBlockStore) List(ctx context.Context, f BlockFilter) ([]BlockRecord, error) {
	q := s.db.WithContext(ctx).Model(&BlockRecord{}).Order("blocked_at DESC")
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if f.IP != "" {
		q = q.Where("ip = ?", f.IP)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var recs []BlockRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// DeactivateExpired flips Active on every record past its BlockedUntil.
func (s *GormBlockStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&BlockRecord{}).
		Where("active = ? AND blocked_until <= ?", true, now).
		Update("active", false)
	return res.RowsAffected, res.Error
}

// GormTrustStore implements TrustStore on a relational database.
type GormTrustStore struct {
	db *gorm.DB
}

var _ TrustStore = (*GormTrustStore)(nil)

// NewGormTrustStore creates a trust store on the given database handle.
func NewGormTrustStore(db *gorm.DB) *GormTrustStore {
	return &GormTrustStore{db: db}
}

// ActiveIPs returns the IPs currently exempt from limiting.
func (s *GormTrustStore) ActiveIPs(ctx context.Context, now time.Time) ([]string, error) {
	var ips []string
	err := s.db.WithContext(ctx).Model(&TrustedEntry{}).
		Where("active = ? AND (expires_at IS NULL OR expires_at > ?)", true, now).
		Pluck("ip", &ips).Error
	if err != nil {
		return nil, err
	}
	return ips, nil
}

// Upsert inserts or reactivates an entry for ip.
func (s *GormTrustStore) Upsert(ctx context.Context, ip, description string) error {
	entry := TrustedEntry{IP: ip, Description: description, Active: true}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "active", "expires_at"}),
	}).Create(&entry).Error
}

// List returns every trusted entry, newest first.
func (s *GormTrustStore) List(ctx context.Context) ([]TrustedEntry, error) {
	var entries []TrustedEntry
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeactivateExpired flips Active on entries past their expiry.
func (s *GormTrustStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&TrustedEntry{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("active", false)
	return res.RowsAffected, res.Error
}

// GormViolationStore implements ViolationStore on a relational database.
type GormViolationStore struct {
	db *gorm.DB
}

var _ ViolationStore = (*GormViolationStore)(nil)

// NewGormViolationStore creates a violation log on the given database handle.
func NewGormViolationStore(db *gorm.DB) *GormViolationStore {
	return &GormViolationStore{db: db}
}

// Append writes one audit row. Rows are never updated or deleted outside of
// retention pruning.
func (s *GormViolationStore) Append(ctx context.Context, rec *ViolationRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// TopOffenders returns the IPs with the most violations since the given
// instant, most violations first.
func (s *GormViolationStore) TopOffenders(ctx context.Context, since time.Time, limit int) ([]OffenderSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []OffenderSummary
	err := s.db.WithContext(ctx).Model(&ViolationRecord{}).
		Select("client_ip, COUNT(*) AS violations").
		Where("timestamp >= ?", since).
		Group("client_ip").
		Order("violations DESC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountByClass returns per-endpoint-class violation counts since the given
// instant.
func (s *GormViolationStore) CountByClass(ctx context.Context, since time.Time) ([]ClassSummary, error) {
	var out []ClassSummary
	err := s.db.WithContext(ctx).Model(&ViolationRecord{}).
		Select("endpoint_class, COUNT(*) AS violations").
		Where("timestamp >= ?", since).
		Group("endpoint_class").
		Order("violations DESC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountSince returns the number of violations since the given instant.
func (s *GormViolationStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ViolationRecord{}).
		Where("timestamp >= ?", since).
		Count(&n).Error
	return n, err
}

// DeleteOlderThan prunes audit rows past the retention horizon.
func (s *GormViolationStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&ViolationRecord{})
	return res.RowsAffected, res.Error
}
