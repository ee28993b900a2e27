package fleet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-ops/internal/events"
	"github.com/ukydev/fleet-ops/internal/models"
)

type nameQty struct {
	name string
	qty  int
}

func namesAndQuantities(items []models.InventoryItem) []nameQty {
	out := make([]nameQty, len(items))
	for i, it := range items {
		out[i] = nameQty{it.Name, it.Quantity}
	}
	return out
}

func TestMergeByName(t *testing.T) {
	bolt1 := models.InventoryItem{ID: "a", Name: "bolt", Quantity: 2, Price: 1.5, Status: models.StockLow}
	filter := models.InventoryItem{ID: "b", Name: "filter", Quantity: 1, Price: 9, Status: models.StockCritical}
	bolt2 := models.InventoryItem{ID: "c", Name: "bolt", Quantity: 3, Price: 1.75, Status: models.StockInStock}

	orders := [][]models.InventoryItem{
		{bolt1, filter, bolt2},
		{bolt2, bolt1, filter},
		{filter, bolt2, bolt1},
	}
	want := []nameQty{{"bolt", 5}, {"filter", 1}}
	for _, items := range orders {
		merged := MergeByName(items)
		assert.Equal(t, want, namesAndQuantities(merged))
		assert.Equal(t, merged, MergeByName(merged))
	}

	merged := MergeByName([]models.InventoryItem{bolt1, filter, bolt2})
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, 1.5, merged[0].Price)
	assert.Equal(t, models.StockInStock, merged[0].Status)

	assert.Empty(t, MergeByName(nil))
}

func TestThresholdClassifier(t *testing.T) {
	c := ThresholdClassifier{Low: 10, Critical: 3}
	tests := []struct {
		qty  int
		want models.StockStatus
	}{
		{0, models.StockCritical},
		{3, models.StockCritical},
		{4, models.StockLow},
		{10, models.StockLow},
		{11, models.StockInStock},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.qty), "quantity %d", tt.qty)
	}
}

func TestInventory_AddAndMergedView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inventory.AddItem(ctx, StockItem{Name: "Brake Pad", Quantity: 4, Price: 12.5})
	require.NoError(t, err)
	merged, err := f.inventory.AddItem(ctx, StockItem{Name: "Brake Pad", Quantity: 3, Price: 13})
	require.NoError(t, err)
	assert.Equal(t, 7, merged.Quantity)
	assert.Equal(t, models.StockInStock, merged.Status)
	assert.Equal(t, 12.5, merged.Price)

	_, err = f.inventory.AddItem(ctx, StockItem{Name: "Air Filter", Quantity: 1, Price: 8})
	require.NoError(t, err)

	items, err := f.inventory.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, []nameQty{{"Air Filter", 1}, {"Brake Pad", 7}}, namesAndQuantities(items))

	low, err := f.inventory.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "Air Filter", low[0].Name)
	assert.Equal(t, models.StockCritical, low[0].Status)
}

func TestInventory_AddItemValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.inventory.AddItem(context.Background(), StockItem{Name: "", Quantity: 0, Price: -1})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "name")
	assert.Contains(t, ve.Fields, "quantity")
	assert.Contains(t, ve.Fields, "price")
}

func TestInventory_ConsumeAcrossRecordsAndRelabel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.inventory.AddItem(ctx, StockItem{Name: "Oil", Quantity: 2, Price: 20})
	require.NoError(t, err)
	_, err = f.inventory.AddItem(ctx, StockItem{Name: "Oil", Quantity: 6, Price: 20})
	require.NoError(t, err)

	merged, err := f.inventory.Consume(ctx, "Oil", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, merged.Quantity)
	assert.Equal(t, models.StockLow, merged.Status)

	raw, err := f.inventory.records(ctx, "Oil")
	require.NoError(t, err)
	total := 0
	for _, r := range raw {
		assert.Equal(t, models.StockLow, r.Status)
		assert.GreaterOrEqual(t, r.Quantity, 0)
		total += r.Quantity
	}
	assert.Equal(t, 4, total)
	assert.NotEmpty(t, f.pub.ofType(events.EntityInventory, events.TypeStockChanged))
}

func TestInventory_ConsumeInsufficient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.inventory.AddItem(ctx, StockItem{Name: "Wiper", Quantity: 2, Price: 5})
	require.NoError(t, err)

	_, err = f.inventory.Consume(ctx, "Wiper", 3)
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	item, err := f.inventory.Item(ctx, "Wiper")
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)

	_, err = f.inventory.Consume(ctx, "Unknown", 1)
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	_, err = f.inventory.Consume(ctx, "Wiper", 0)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestInventory_Restock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.inventory.Restock(ctx, StockItem{Name: "Fuse", Quantity: 1, Price: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, created.Quantity)
	assert.Equal(t, models.StockCritical, created.Status)

	restocked, err := f.inventory.Restock(ctx, StockItem{Name: "Fuse", Quantity: 9, Price: 2.25})
	require.NoError(t, err)
	assert.Equal(t, 10, restocked.Quantity)
	assert.Equal(t, 2.25, restocked.Price)
	assert.Equal(t, models.StockInStock, restocked.Status)

	tracked, err := f.inventory.Tracked(ctx, "Fuse")
	require.NoError(t, err)
	assert.True(t, tracked)

	missingItem, err := f.inventory.Item(ctx, "Nothing")
	require.NoError(t, err)
	assert.Nil(t, missingItem)
}
