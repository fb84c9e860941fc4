package domain

// InventoryItem is a rentable catalog entry.
// AvailableQuantity is derived by the repository on every read and never stored.
type InventoryItem struct {
	ID                int32  `json:"id"`
	Name              string `json:"name"`
	Unit              string `json:"unit"`
	Quantity          int32  `json:"quantity"`
	AvailableQuantity int32  `json:"available_quantity"`
}

// Available returns total minus consumed, clamped at zero.
func Available(total, consumed int32) int32 {
	if consumed >= total {
		return 0
	}
	return total - consumed
}
