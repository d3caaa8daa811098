package domain

import "time"

// InventoryRecord tracks sellable and held units for a single product.
type InventoryRecord struct {
	ProductID   string    `json:"product_id"`
	Available   int       `json:"available"`
	Reserved    int       `json:"reserved"`
	LastUpdated time.Time `json:"last_updated"`
}

func (r InventoryRecord) TotalStock() int {
	return r.Available + r.Reserved
}

func (r InventoryRecord) CanReserve(quantity int) bool {
	return quantity > 0 && r.Available >= quantity
}
