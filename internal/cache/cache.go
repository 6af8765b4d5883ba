// Package cache stores rendered alert list queries.
//
// Entries are keyed by (owner, status filter, page, per_page) and grouped by
// owner so that a single write can drop every page and filter combination of
// that owner at once.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"pricealerts/internal/models"

	"go.opentelemetry.io/otel"
)

const (
	// DefaultKeyPrefix namespaces query cache keys.
	DefaultKeyPrefix = "browse_alerts:"

	// generationPrefix sits outside DefaultKeyPrefix so owner SCANs never
	// match a generation counter.
	generationPrefix = "browse_alerts_gen:"
)

var tracer = otel.Tracer("pricealerts/internal/cache")

// Key identifies one rendered list query.
type Key struct {
	OwnerID string
	Status  string
	Page    int
	PerPage int
}

// String renders the storage key. Owner and parameters are hashed so that
// arbitrary principal ids never collide with key separators or SCAN globs.
func (k Key) String() string {
	params := k.Status + "\x00" + strconv.Itoa(k.Page) + "\x00" + strconv.Itoa(k.PerPage)
	return OwnerPrefix(k.OwnerID) + shortHash(params)
}

// OwnerPrefix is the key prefix shared by every entry of one owner.
func OwnerPrefix(ownerID string) string {
	return DefaultKeyPrefix + shortHash(ownerID) + ":"
}

// GenerationKey names the owner's invalidation counter.
func GenerationKey(ownerID string) string {
	return generationPrefix + shortHash(ownerID)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// Nop never stores anything. It backs CACHE_BACKEND=none.
type Nop struct{}

func (Nop) Get(context.Context, Key) (*models.AlertPage, bool, error) { return nil, false, nil }
func (Nop) Generation(context.Context, string) (uint64, error) { return 0, nil }
func (Nop) Put(context.Context, Key, uint64, *models.AlertPage) error { return nil }
func (Nop) Invalidate(context.Context, string) error { return nil }

func clonePage(p *models.AlertPage) *models.AlertPage {
	if p == nil {
		return nil
	}
	out := *p
	out.Alerts = append(make([]models.AlertSummary, 0, len(p.Alerts)), p.Alerts...)
	return &out
}
