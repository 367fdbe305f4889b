package category_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/banksync/internal/category"
	"github.com/openledger/banksync/internal/model"
	"github.com/openledger/banksync/internal/storage"
	"github.com/openledger/banksync/internal/testutil"
)

func seedCategory(t *testing.T, store *storage.SQLiteStorage, name string, catType model.CategoryType) *model.Category {
	t.Helper()

	cat, err := store.CreateCategory(context.Background(), &model.Category{
		Name: name,
		Type: catType,
	})
	require.NoError(t, err)
	return cat
}

func TestMapperExactTranslation(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	groceries := seedCategory(t, store, "Groceries", model.CategoryTypeExpense)

	mapper := category.NewMapper(store, time.Hour)

	id, err := mapper.Map(ctx, "Groceries", model.MovementDebit)
	require.NoError(t, err)
	assert.Equal(t, groceries.ID, id)
}

func TestMapperTypeMismatchRejected(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	seedCategory(t, store, "Income", model.CategoryTypeIncome)

	mapper := category.NewMapper(store, time.Hour)

	// "Income" translates to an income category, but the movement is a
	// debit; mapping across the income/expense boundary is never allowed.
	id, err := mapper.Map(ctx, "Income", model.MovementDebit)
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestMapperFuzzyMatch(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	streaming := seedCategory(t, store, "Streaming", model.CategoryTypeExpense)
	seedCategory(t, store, "Salary", model.CategoryTypeIncome)

	mapper := category.NewMapper(store, time.Hour)

	t.Run("substring of aggregator category", func(t *testing.T) {
		id, err := mapper.Map(ctx, "Streaming services", model.MovementDebit)
		require.NoError(t, err)
		assert.Equal(t, streaming.ID, id)
	})

	t.Run("fuzzy candidates are filtered by type", func(t *testing.T) {
		// "Salary" matches by name but is an income category.
		id, err := mapper.Map(ctx, "Salary", model.MovementDebit)
		require.NoError(t, err)
		assert.Zero(t, id)
	})
}

func TestMapperUnmappableIsNotAnError(t *testing.T) {
	store := testutil.SetupTestDB(t)
	mapper := category.NewMapper(store, time.Hour)

	id, err := mapper.Map(context.Background(), "Llama grooming", model.MovementDebit)
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = mapper.Map(context.Background(), "", model.MovementDebit)
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestGetOrCreate(t *testing.T) {
	store := testutil.SetupTestDB(t)
	ctx := context.Background()
	mapper := category.NewMapper(store, time.Hour)

	t.Run("creates externally sourced category", func(t *testing.T) {
		id, err := mapper.GetOrCreate(ctx, "Pet supplies", model.MovementDebit)
		require.NoError(t, err)
		require.NotZero(t, id)

		created, err := store.GetCategoryByName(ctx, "Pet supplies")
		require.NoError(t, err)
		assert.Equal(t, model.CategoryTypeExpense, created.Type)
		assert.True(t, created.ExternallySourced)
		assert.InDelta(t, 0.5, created.Confidence, 0.001)
	})

	t.Run("subsequent lookups reuse the created category", func(t *testing.T) {
		first, err := mapper.GetOrCreate(ctx, "Pet supplies", model.MovementDebit)
		require.NoError(t, err)

		second, err := mapper.GetOrCreate(ctx, "Pet supplies", model.MovementDebit)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("translation table picks the internal name", func(t *testing.T) {
		id, err := mapper.GetOrCreate(ctx, "Taxi and ride-hailing", model.MovementDebit)
		require.NoError(t, err)
		require.NotZero(t, id)

		created, err := store.GetCategoryByName(ctx, "Transportation")
		require.NoError(t, err)
		assert.Equal(t, created.ID, id)
	})

	t.Run("type conflict leaves the transaction uncategorized", func(t *testing.T) {
		seedCategory(t, store, "Royalties", model.CategoryTypeIncome)

		// The name exists with an income type; a debit must not land there,
		// and the conflict must not silently misclassify.
		id, err := mapper.GetOrCreate(ctx, "Royalties", model.MovementDebit)
		require.NoError(t, err)
		assert.Zero(t, id)
	})

	t.Run("empty category becomes uncategorized", func(t *testing.T) {
		id, err := mapper.GetOrCreate(ctx, "", model.MovementDebit)
		require.NoError(t, err)
		require.NotZero(t, id)

		created, err := store.GetCategoryByName(ctx, "Uncategorized")
		require.NoError(t, err)
		assert.Equal(t, created.ID, id)
	})
}
