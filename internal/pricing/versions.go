package pricing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	qerrors "quantcrux/internal/errors"
	"quantcrux/internal/models"
)

// VersionLog is an append-only log of product configurations keyed by
// (product id, version). Revisions never mutate earlier versions.
type VersionLog struct {
	mu       sync.RWMutex
	versions map[string][]models.ProductTerms
	now      func() time.Time
}

// NewVersionLog creates an empty log.
func NewVersionLog() *VersionLog {
	return &VersionLog{versions: make(map[string][]models.ProductTerms), now: time.Now}
}

// Define records version 1 of a new product.
func (l *VersionLog) Define(terms models.ProductTerms) (models.ProductTerms, error) {
	if terms.ProductID == "" {
		return models.ProductTerms{}, qerrors.NewValidationError("product_id", terms.ProductID, "required")
	}
	if err := ValidateTerms(terms); err != nil {
		return models.ProductTerms{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.versions[terms.ProductID]) > 0 {
		return models.ProductTerms{}, qerrors.NewValidationError("product_id", terms.ProductID, "already defined")
	}
	terms.Version = 1
	terms.CreatedAt = l.now()
	l.versions[terms.ProductID] = []models.ProductTerms{terms}
	return terms, nil
}

// Revise appends version n+1 built from a full copy of version n with
// change applied.
func (l *VersionLog) Revise(productID string, change func(*models.ProductTerms)) (models.ProductTerms, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	history := l.versions[productID]
	if len(history) == 0 {
		return models.ProductTerms{}, fmt.Errorf("product %s: %w", productID, qerrors.ErrVersionNotFound)
	}
	next := cloneTerms(history[len(history)-1])
	change(&next)
	next.ProductID = productID
	next.Version = history[len(history)-1].Version + 1
	next.CreatedAt = l.now()
	if err := ValidateTerms(next); err != nil {
		return models.ProductTerms{}, err
	}
	l.versions[productID] = append(history, next)
	return next, nil
}

// Get returns one version of a product.
func (l *VersionLog) Get(productID string, version int) (models.ProductTerms, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.versions[productID] {
		if t.Version == version {
			return cloneTerms(t), nil
		}
	}
	return models.ProductTerms{}, fmt.Errorf("product %s version %d: %w", productID, version, qerrors.ErrVersionNotFound)
}

// Latest returns the newest version of a product.
func (l *VersionLog) Latest(productID string) (models.ProductTerms, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	history := l.versions[productID]
	if len(history) == 0 {
		return models.ProductTerms{}, fmt.Errorf("product %s: %w", productID, qerrors.ErrVersionNotFound)
	}
	return cloneTerms(history[len(history)-1]), nil
}

// History returns every version of a product, oldest first.
func (l *VersionLog) History(productID string) []models.ProductTerms {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.ProductTerms, len(l.versions[productID]))
	for i, t := range l.versions[productID] {
		out[i] = cloneTerms(t)
	}
	return out
}

// Products lists known product ids in sorted order.
func (l *VersionLog) Products() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.versions))
	for id := range l.versions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restore loads previously persisted versions, e.g. from the store.
func (l *VersionLog) Restore(terms []models.ProductTerms) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range terms {
		l.versions[t.ProductID] = append(l.versions[t.ProductID], cloneTerms(t))
	}
	for id := range l.versions {
		sort.Slice(l.versions[id], func(i, j int) bool {
			return l.versions[id][i].Version < l.versions[id][j].Version
		})
	}
}

// cloneTerms copies optional fields so callers cannot mutate logged versions.
func cloneTerms(t models.ProductTerms) models.ProductTerms {
	cp := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		x := *v
		return &x
	}
	t.StrikePrice = cp(t.StrikePrice)
	t.BarrierLevel = cp(t.BarrierLevel)
	t.PayoffRate = cp(t.PayoffRate)
	t.Cap = cp(t.Cap)
	t.Floor = cp(t.Floor)
	return t
}

// ResultHistory is an append-only record of pricing results per product.
type ResultHistory struct {
	mu      sync.RWMutex
	records map[string][]models.PricingResult
}

// NewResultHistory creates an empty history.
func NewResultHistory() *ResultHistory {
	return &ResultHistory{records: make(map[string][]models.PricingResult)}
}

// Record appends a completed result.
func (h *ResultHistory) Record(r models.PricingResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[r.ProductID] = append(h.records[r.ProductID], r)
}

// Latest returns the most recently completed result of a product.
func (h *ResultHistory) Latest(productID string) (models.PricingResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	recs := h.records[productID]
	if len(recs) == 0 {
		return models.PricingResult{}, false
	}
	return recs[len(recs)-1], true
}

// History returns all results of a product in completion order.
func (h *ResultHistory) History(productID string) []models.PricingResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.PricingResult, len(h.records[productID]))
	copy(out, h.records[productID])
	return out
}
