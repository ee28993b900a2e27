package models

// InventoryItem is a raw stock record. Several records may share a name;
// together they describe one logical item.
type InventoryItem struct {
	ID       string      `bson:"_id,omitempty" json:"id"`
	Name     string      `bson:"name" json:"name" validate:"required"`
	Quantity int         `bson:"quantity" json:"quantity" validate:"gte=0"`
	Price    float64     `bson:"price" json:"price" validate:"gte=0"`
	Status   StockStatus `bson:"status" json:"status"`
}
