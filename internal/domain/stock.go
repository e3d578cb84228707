package domain

import "time"

// StockRecord is the per-item, per-warehouse view of inventory as reported by
// the backend. The backend is the source of truth; local code never mutates
// quantities directly, only the coordinator's remote calls do.
type StockRecord struct {
	ItemID            string
	WarehouseID       string
	AvailableQuantity float64
	ReservedQuantity  float64
	Unit              UnitKind
	LowStockThreshold float64
	UpdatedAt         time.Time
}

// Available is the quantity still admissible for sale.
func (r StockRecord) Available() float64 {
	available := r.AvailableQuantity - r.ReservedQuantity
	if available < 0 {
		return 0
	}
	return available
}

func (r StockRecord) LowStock() bool {
	return r.LowStockThreshold > 0 && r.Available() <= r.LowStockThreshold
}
