package store

import (
	"context"
	"time"
)

// CounterStore is the fast, ephemeral key/value tier. It holds fixed-window
// request counts, accumulated violation counts, the block-list mirror and the
// trust-list cache. Values may be lost on restart; correctness degrades to a
// reset window, never to an error.
type CounterStore interface {
	// Increment atomically increments the counter at key and returns the new
	// value. A missing key is created at 1 with the given TTL; the TTL of an
	// existing key is left untouched, so expiry marks the window boundary.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the raw value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value at key with the given TTL, replacing any prior value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// BlockRecord is the durable record of an automatically or manually blocked
// IP. Records are never hard-deleted; expiry and unblock flip Active.
type BlockRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IP             string    `gorm:"uniqueIndex;size:64" json:"ip"`
	BlockedAt      time.Time `json:"blocked_at"`
	BlockedUntil   time.Time `gorm:"index" json:"blocked_until"`
	ViolationCount int       `json:"violation_count"`
	EndpointClass  string    `gorm:"size:32" json:"endpoint_class"`
	LastPath       string    `gorm:"size:512" json:"last_path"`
	Reason         string    `gorm:"type:text" json:"reason"`
	Active         bool      `gorm:"index" json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Expired reports whether the block has run out at the given instant.
func (b *BlockRecord) Expired(now time.Time) bool {
	return !now.Before(b.BlockedUntil)
}

// TrustedEntry is a durable allow-list entry. An entry exempts its IP from
// all quota and block checks while Active and not past ExpiresAt.
type TrustedEntry struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	IP          string     `gorm:"uniqueIndex;size:64" json:"ip"`
	Description string     `gorm:"size:256" json:"description"`
	Active      bool       `gorm:"index" json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ViolationRecord is one append-only audit row per denied request. It is
// never read on the request hot path.
type ViolationRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
	ClientIP      string    `gorm:"index;size:64" json:"client_ip"`
	IdentityKey   string    `gorm:"size:128" json:"identity_key,omitempty"`
	Path          string    `gorm:"size:512" json:"path"`
	EndpointClass string    `gorm:"size:32" json:"endpoint_class"`
	Reason        string    `gorm:"size:32" json:"reason"`
	RequestCount  int       `json:"request_count"`
	Limit         int       `json:"limit"`
	CorrelationID string    `gorm:"size:64" json:"correlation_id"`
	UserAgent     string    `gorm:"size:256" json:"user_agent,omitempty"`
}

// Violation reasons.
const (
	ReasonIPQuota       = "ip_quota"
	ReasonIdentityQuota = "identity_quota"
)

// BlockFilter narrows List queries over block records.
type BlockFilter struct {
	ActiveOnly bool
	IP         string
	Limit      int
}

// OffenderSummary aggregates violations per client IP.
type OffenderSummary struct {
	ClientIP   string `json:"client_ip"`
	Violations int64  `json:"violations"`
}

// ClassSummary aggregates violations per endpoint class.
type ClassSummary struct {
	EndpointClass string `json:"endpoint_class"`
	Violations    int64  `json:"violations"`
}

// BlockStore is the durable tier for block records. Find returns (nil, nil)
// when no record exists; callers branch on presence, never on errors.
type BlockStore interface {
	Find(ctx context.Context, ip string) (*BlockRecord, error)
	Upsert(ctx context.Context, rec *BlockRecord) error

	// Deactivate flips Active to false and appends note to the record's
	// reason. It reports whether a row changed; deactivating an absent or
	// already-inactive record is not an error.
	Deactivate(ctx context.Context, ip, note string) (bool, error)

	List(ctx context.Context, f BlockFilter) ([]BlockRecord, error)

	// DeactivateExpired flips Active on every record past BlockedUntil and
	// returns how many changed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// TrustStore is the durable tier for the trust list.
type TrustStore interface {
	// ActiveIPs returns the IPs currently exempt from limiting.
	ActiveIPs(ctx context.Context, now time.Time) ([]string, error)

	// Upsert inserts or reactivates an entry for ip.
	Upsert(ctx context.Context, ip, description string) error

	List(ctx context.Context) ([]TrustedEntry, error)

	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// ViolationStore is the durable, append-only audit log.
type ViolationStore interface {
	Append(ctx context.Context, rec *ViolationRecord) error

	// TopOffenders returns the IPs with the most violations since the given
	// instant, most violations first.
	TopOffenders(ctx context.Context, since time.Time, limit int) ([]OffenderSummary, error)

	// CountByClass returns per-endpoint-class violation counts since the
	// given instant.
	CountByClass(ctx context.Context, since time.Time) ([]ClassSummary, error)

	CountSince(ctx context.Context, since time.Time) (int64, error)

	// DeleteOlderThan prunes audit rows past the retention horizon and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
