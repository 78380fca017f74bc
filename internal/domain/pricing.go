package domain

// PricedLine is a quantity of an item valued at the item's price as read by the caller.
type PricedLine struct {
	ItemID    string
	ItemName  string
	ImageURL  string
	Quantity  int
	UnitPrice int64
}

// PriceLine is the single place an item is turned into money. Cart views pass the
// live item; order creation passes the item read inside the order transaction and
// snapshots the result.
func PriceLine(item Item, quantity int) PricedLine {
	return PricedLine{
		ItemID:    item.ID,
		ItemName:  item.Name,
		ImageURL:  item.ImageURL,
		Quantity:  quantity,
		UnitPrice: item.Price,
	}
}

func (p PricedLine) Subtotal() int64 {
	return p.UnitPrice * int64(p.Quantity)
}

// Snapshot freezes a priced line into an order line.
func (p PricedLine) Snapshot(id, orderID string) OrderLine {
	return OrderLine{
		ID:        id,
		OrderID:   orderID,
		ItemID:    p.ItemID,
		ItemName:  p.ItemName,
		Quantity:  p.Quantity,
		UnitPrice: p.UnitPrice,
	}
}
