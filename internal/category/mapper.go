// Package category translates aggregator category strings into internal
// category identifiers.
package category

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/service"
)

// DefaultRefreshInterval bounds how stale the in-memory category cache may
// get during high-volume syncs before it is reloaded from storage.
const DefaultRefreshInterval = time.Hour

// externalConfidence is the conservative default confidence assigned to
// categories created from aggregator data rather than by a person.
const externalConfidence = 0.5

// Mapper resolves aggregator categories to internal category ids.
type Mapper struct {
	store           service.CategoryStore
	logger          *slog.Logger
	cache           map[string]model.Category
	cacheExpiry     time.Time
	refreshInterval time.Duration
	cacheMutex      sync.RWMutex
}

// NewMapper creates a mapper backed by the given category store.
func NewMapper(store service.CategoryStore, refreshInterval time.Duration) *Mapper {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &Mapper{
		store:           store,
		logger:          slog.Default().With("component", "category"),
		refreshInterval: refreshInterval,
	}
}

// Map resolves an aggregator category to an internal category id, or 0 when
// nothing matches. It never returns an error for an unmappable category; the
// caller decides whether to create one via GetOrCreate.
//
// A match whose type contradicts the movement type is always rejected: a
// credit must not land in an expense category, nor a debit in an income one.
func (m *Mapper) Map(ctx context.Context, aggregatorCategory string, movement model.MovementType) (int64, error) {
	if aggregatorCategory == "" {
		return 0, nil
	}

	categories, err := m.activeCategories(ctx)
	if err != nil {
		return 0, err
	}

	wantType := model.TypeForMovement(movement)

	// Exact translation table lookup first.
	if entry, ok := translationTable[aggregatorCategory]; ok && entry.Type == wantType {
		if cat, ok := categories[strings.ToLower(entry.Name)]; ok {
			return cat.ID, nil
		}
	}

	// Fuzzy substring match against known internal names, filtered by type.
	lowered := strings.ToLower(aggregatorCategory)
	for name, cat := range categories {
		if cat.Type != wantType {
			continue
		}
		if strings.Contains(lowered, name) || strings.Contains(name, lowered) {
			return cat.ID, nil
		}
	}

	return 0, nil
}

// GetOrCreate resolves the category, creating an externally-sourced one with
// conservative confidence when nothing matches. This bounds the number of
// uncategorized transactions without silently misclassifying across the
// income/expense boundary.
func (m *Mapper) GetOrCreate(ctx context.Context, aggregatorCategory string, movement model.MovementType) (int64, error) {
	id, err := m.Map(ctx, aggregatorCategory, movement)
	if err != nil || id != 0 {
		return id, err
	}

	name := aggregatorCategory
	if entry, ok := translationTable[aggregatorCategory]; ok {
		name = entry.Name
	}
	if name == "" {
		name = "Uncategorized"
	}

	created, err := m.store.CreateCategory(ctx, &model.Category{
		Name:              name,
		Description:       "Imported from aggregator category " + aggregatorCategory,
		Type:              model.TypeForMovement(movement),
		Confidence:        externalConfidence,
		ExternallySourced: true,
	})
	if err != nil {
		return 0, err
	}

	// The existing row may have an incompatible type when the name collided;
	// reject the match rather than misclassify.
	if created.Type != model.TypeForMovement(movement) {
		m.logger.Warn("category type conflict, leaving transaction uncategorized",
			"category", created.Name,
			"category_type", created.Type,
			"movement", movement)
		return 0, nil
	}

	m.invalidate()
	return created.ID, nil
}

// activeCategories returns the cached lookup table, reloading it from storage
// when the refresh interval has elapsed.
func (m *Mapper) activeCategories(ctx context.Context) (map[string]model.Category, error) {
	m.cacheMutex.RLock()
	if m.cache != nil && time.Now().Before(m.cacheExpiry) {
		cached := m.cache
		m.cacheMutex.RUnlock()
		return cached, nil
	}
	m.cacheMutex.RUnlock()

	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if m.cache != nil && time.Now().Before(m.cacheExpiry) {
		return m.cache, nil
	}

	categories, err := m.store.GetCategories(ctx)
	if err != nil {
		return nil, err
	}

	cache := make(map[string]model.Category, len(categories))
	for _, cat := range categories {
		cache[strings.ToLower(cat.Name)] = cat
	}

	m.cache = cache
	m.cacheExpiry = time.Now().Add(m.refreshInterval)
	m.logger.Debug("refreshed category cache", "count", len(cache))

	return cache, nil
}

// invalidate drops the cache so the next lookup sees fresh rows.
func (m *Mapper) invalidate() {
	m.cacheMutex.Lock()
	m.cache = nil
	m.cacheMutex.Unlock()
}
