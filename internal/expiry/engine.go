// Package expiry ranks batches by how soon they expire so the counter staff
// can push or pull stock before it is written off.
package expiry

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"farmapos/backend/internal/cache"
	"farmapos/backend/internal/domain"
)

const (
	SeverityExpired  = "expired"
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

type Engine struct {
	cache        cache.AdvisoryCache
	cacheTTL     time.Duration
	warnDays     int
	criticalDays int
}

func NewEngine(cacheStore cache.AdvisoryCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopAdvisoryCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		cache:        cacheStore,
		cacheTTL:     cacheTTL,
		warnDays:     90,
		criticalDays: 30,
	}
}

// Advise builds the near-expiry advisory list from a batch snapshot. Results
// are cached keyed on the snapshot, so repeated dashboard polls within the
// TTL do not recompute.
func (e *Engine) Advise(
	ctx context.Context,
	medicines map[string]domain.Medicine,
	batches []domain.Batch,
	now time.Time,
) domain.ExpiryAdvisoryResponse {
	startedAt := time.Now()

	cacheKey := buildCacheKey(batches, now)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		cached.LatencyMS = time.Since(startedAt).Milliseconds()
		return *cached
	}

	advisories := make([]domain.ExpiryAdvisory, 0)
	for _, batch := range batches {
		if batch.ExpiryDate == nil || batch.Quantity <= 0 {
			continue
		}
		days := batch.DaysToExpiry(now)
		if days > e.warnDays {
			continue
		}

		med, ok := medicines[batch.MedicineID]
		if !ok {
			continue
		}

		advisory := domain.ExpiryAdvisory{
			BatchID:      batch.ID,
			MedicineID:   batch.MedicineID,
			MedicineName: med.Name,
			BatchNumber:  batch.BatchNumber,
			ExpiryDate:   batch.ExpiryDate.Format("2006-01-02"),
			DaysLeft:     days,
			Quantity:     batch.Quantity,
		}
		switch {
		case batch.IsExpired(now):
			advisory.Severity = SeverityExpired
			advisory.Message = fmt.Sprintf("Batch %s of %s has expired", batch.BatchNumber, med.Name)
		case days <= e.criticalDays:
			advisory.Severity = SeverityCritical
			advisory.Message = fmt.Sprintf("Batch %s of %s expires in %d days", batch.BatchNumber, med.Name, days)
		default:
			advisory.Severity = SeverityWarning
			advisory.Message = fmt.Sprintf("Batch %s of %s expires in %d days", batch.BatchNumber, med.Name, days)
		}
		advisories = append(advisories, advisory)
	}

	sort.Slice(advisories, func(i, j int) bool {
		if advisories[i].DaysLeft != advisories[j].DaysLeft {
			return advisories[i].DaysLeft < advisories[j].DaysLeft
		}
		return advisories[i].BatchNumber < advisories[j].BatchNumber
	})

	resp := domain.ExpiryAdvisoryResponse{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Advisories:  advisories,
	}
	resp.LatencyMS = time.Since(startedAt).Milliseconds()
	_ = e.cache.Set(ctx, cacheKey, &resp, e.cacheTTL)
	return resp
}

func buildCacheKey(batches []domain.Batch, now time.Time) string {
	parts := make([]string, 0, len(batches)+1)
	parts = append(parts, now.UTC().Format("2006-01-02"))
	for _, batch := range batches {
		expiry := ""
		if batch.ExpiryDate != nil {
			expiry = batch.ExpiryDate.Format("2006-01-02")
		}
		parts = append(parts, fmt.Sprintf("%s:%d:%s:%t", batch.ID, batch.Quantity, expiry, batch.Blocked))
	}
	sort.Strings(parts[1:])

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "pharmacy:expiry:" + hex.EncodeToString(hash[:])
}
