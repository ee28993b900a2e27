package fleet

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-ops/internal/db"
	"github.com/ukydev/fleet-ops/internal/events"
	"github.com/ukydev/fleet-ops/internal/metrics"
	"github.com/ukydev/fleet-ops/internal/models"
	"github.com/ukydev/fleet-ops/internal/validation"
)

// Classifier labels a merged quantity.
type Classifier func(quantity int) models.StockStatus

// ThresholdClassifier labels quantities at or below Critical as Critical and
// at or below Low as Low Stock.
type ThresholdClassifier struct {
	Low      int
	Critical int
}

// DefaultThresholds are used when no thresholds are configured.
var DefaultThresholds = ThresholdClassifier{Low: 10, Critical: 3}

// Classify implements Classifier.
func (c ThresholdClassifier) Classify(quantity int) models.StockStatus {
	switch {
	case quantity <= c.Critical:
		return models.StockCritical
	case quantity <= c.Low:
		return models.StockLow
	default:
		return models.StockInStock
	}
}

// MergeByName folds records sharing a name into one: quantities are summed,
// the id and price come from the first record seen and the status from the
// last. The result is sorted by name.
func MergeByName(items []models.InventoryItem) []models.InventoryItem {
	byName := make(map[string]*models.InventoryItem, len(items))
	for _, it := range items {
		merged, ok := byName[it.Name]
		if !ok {
			copied := it
			byName[it.Name] = &copied
			continue
		}
		merged.Quantity += it.Quantity
		merged.Status = it.Status
	}
	out := make([]models.InventoryItem, 0, len(byName))
	for _, it := range byName {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StockItem is the input for adding or restocking a part.
type StockItem struct {
	Name     string  `json:"name" validate:"required"`
	Quantity int     `json:"quantity" validate:"gte=1"`
	Price    float64 `json:"price" validate:"gte=0"`
}

// Inventory keeps raw stock records and their labels consistent.
type Inventory struct {
	store    *db.Store
	classify Classifier
	pub      events.Publisher
	log      *logrus.Entry
}

// NewInventory creates an inventory service. A nil classifier uses DefaultThresholds.
func NewInventory(store *db.Store, classify Classifier, opts Options) *Inventory {
	opts = opts.withDefaults("inventory")
	if classify == nil {
		classify = DefaultThresholds.Classify
	}
	return &Inventory{store: store, classify: classify, pub: opts.Publisher, log: opts.Logger}
}

// Items returns the merged view of all stock.
func (inv *Inventory) Items(ctx context.Context) ([]models.InventoryItem, error) {
	raw, err := inv.store.Inventory.Query(ctx, db.All)
	if err != nil {
		return nil, err
	}
	return MergeByName(raw), nil
}

// LowStock returns the merged items labelled Low Stock or Critical.
func (inv *Inventory) LowStock(ctx context.Context) ([]models.InventoryItem, error) {
	items, err := inv.Items(ctx)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if it.Status.IsShortage() {
			out = append(out, it)
		}
	}
	return out, nil
}

// Item returns the merged record for name, or nil when nothing is stocked under it.
func (inv *Inventory) Item(ctx context.Context, name string) (*models.InventoryItem, error) {
	raw, err := inv.records(ctx, name)
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	merged := MergeByName(raw)[0]
	return &merged, nil
}

// Tracked reports whether any stock record carries name.
func (inv *Inventory) Tracked(ctx context.Context, name string) (bool, error) {
	raw, err := inv.records(ctx, name)
	return len(raw) > 0, err
}

// AddItem stores a new raw record and relabels every record of that name.
func (inv *Inventory) AddItem(ctx context.Context, in StockItem) (*models.InventoryItem, error) {
	if err := validationError(validation.Struct(&in)); err != nil {
		metrics.Rejection(events.EntityInventory, "validation")
		return nil, err
	}
	rec := &models.InventoryItem{
		Name:     in.Name,
		Quantity: in.Quantity,
		Price:    models.RoundCents(in.Price),
		Status:   inv.classify(in.Quantity),
	}
	id, err := inv.store.Inventory.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	merged, err := inv.relabel(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	inv.log.WithFields(logrus.Fields{"item": in.Name, "quantity": merged.Quantity}).Info("inventory item added")
	return merged, nil
}

// Restock adds quantity to the first record of name, creating one if the
// name is not stocked yet. A positive price replaces the unit price.
func (inv *Inventory) Restock(ctx context.Context, in StockItem) (*models.InventoryItem, error) {
	if err := validationError(validation.Struct(&in)); err != nil {
		metrics.Rejection(events.EntityInventory, "validation")
		return nil, err
	}
	raw, err := inv.records(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return inv.AddItem(ctx, in)
	}
	target := raw[0].ID
	err = inv.store.Inventory.RunAtomic(ctx, target, func(cur *models.InventoryItem) (db.Fields, error) {
		if cur == nil {
			return nil, missing(db.InventoryCollection, target)
		}
		fields := db.Fields{"quantity": cur.Quantity + in.Quantity}
		if in.Price > 0 {
			fields["price"] = models.RoundCents(in.Price)
		}
		return fields, nil
	})
	if err != nil {
		return nil, err
	}
	return inv.relabel(ctx, in.Name)
}

// Consume removes qty units of name across its raw records and relabels
// them from the remaining merged quantity.
func (inv *Inventory) Consume(ctx context.Context, name string, qty int) (*models.InventoryItem, error) {
	if qty <= 0 {
		return nil, &ValidationError{Fields: map[string]string{"quantity": "must be at least 1"}}
	}
	raw, err := inv.records(ctx, name)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, r := range raw {
		total += r.Quantity
	}
	if total < qty {
		metrics.Rejection(events.EntityInventory, "insufficient_stock")
		return nil, fmt.Errorf("%w: %q has %d, need %d", ErrInsufficientStock, name, total, qty)
	}

	remaining := qty
	taken := make(map[string]int)
	for _, r := range raw {
		if remaining == 0 {
			break
		}
		var take int
		err := inv.store.Inventory.RunAtomic(ctx, r.ID, func(cur *models.InventoryItem) (db.Fields, error) {
			take = 0
			if cur == nil || cur.Quantity <= 0 {
				return nil, nil
			}
			take = min(cur.Quantity, remaining)
			return db.Fields{"quantity": cur.Quantity - take}, nil
		})
		if err != nil {
			inv.restore(ctx, taken)
			return nil, err
		}
		taken[r.ID] += take
		remaining -= take
	}
	if remaining > 0 {
		inv.restore(ctx, taken)
		metrics.Rejection(events.EntityInventory, "insufficient_stock")
		return nil, fmt.Errorf("%w: %q ran out while consuming %d", ErrInsufficientStock, name, qty)
	}

	merged, err := inv.relabel(ctx, name)
	if err != nil {
		return nil, err
	}
	inv.log.WithFields(logrus.Fields{"item": name, "consumed": qty, "remaining": merged.Quantity}).Info("inventory consumed")
	return merged, nil
}

func (inv *Inventory) records(ctx context.Context, name string) ([]models.InventoryItem, error) {
	return inv.store.Inventory.Query(ctx, db.Where("name", db.OpEq, name))
}

// restore gives back units taken by a consumption that could not finish.
func (inv *Inventory) restore(ctx context.Context, taken map[string]int) {
	for id, n := range taken {
		if n == 0 {
			continue
		}
		err := inv.store.Inventory.RunAtomic(ctx, id, func(cur *models.InventoryItem) (db.Fields, error) {
			if cur == nil {
				return nil, nil
			}
			return db.Fields{"quantity": cur.Quantity + n}, nil
		})
		if err != nil {
			inv.log.WithError(err).WithFields(logrus.Fields{"item_id": id, "quantity": n}).Error("failed to restore consumed stock")
		}
	}
}

// relabel applies the classifier to the merged quantity of name and writes
// the label to every raw record that disagrees.
func (inv *Inventory) relabel(ctx context.Context, name string) (*models.InventoryItem, error) {
	raw, err := inv.records(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, missing(db.InventoryCollection, name)
	}
	merged := MergeByName(raw)[0]
	label := inv.classify(merged.Quantity)
	for _, r := range raw {
		if r.Status == label {
			continue
		}
		if err := inv.store.Inventory.Update(ctx, r.ID, db.Fields{"status": label}, true); err != nil {
			return nil, err
		}
	}
	merged.Status = label
	inv.pub.Publish(ctx, events.Event{
		Entity: events.EntityInventory, ID: name, Type: events.TypeStockChanged,
		To: string(label), Data: map[string]int{"quantity": merged.Quantity},
	})
	return &merged, nil
}
