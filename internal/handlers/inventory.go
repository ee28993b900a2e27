package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-ops/internal/fleet"
)

// InventoryHandler serves the merged stock view
type InventoryHandler struct {
	inventory *fleet.Inventory
}

// NewInventoryHandler creates an inventory handler
func NewInventoryHandler(inventory *fleet.Inventory) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

// List returns one entry per item name
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.Items(r.Context())
	writeResult(w, r, http.StatusOK, items, err)
}

// LowStock returns the items labelled low or critical
func (h *InventoryHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.LowStock(r.Context())
	writeResult(w, r, http.StatusOK, items, err)
}

// Add stores a new stock record
func (h *InventoryHandler) Add(w http.ResponseWriter, r *http.Request) {
	var in fleet.StockItem
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	item, err := h.inventory.AddItem(r.Context(), in)
	writeResult(w, r, http.StatusCreated, item, err)
}

// Restock adds quantity to an existing item, creating it when unknown
func (h *InventoryHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var in fleet.StockItem
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	item, err := h.inventory.Restock(r.Context(), in)
	writeResult(w, r, http.StatusOK, item, err)
}

// Consume takes {"name", "quantity"} out of stock
func (h *InventoryHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
	}
	if err := readJSON(r, &in); err != nil {
		badRequest(w, err)
		return
	}
	item, err := h.inventory.Consume(r.Context(), in.Name, in.Quantity)
	writeResult(w, r, http.StatusOK, item, err)
}
