package domain

import "time"

type Member struct {
	ID        string // stable handle, usually the email
	Name      string
	CreatedAt time.Time
}

type Item struct {
	ID       string
	Name     string
	Price    int64
	Stock    int
	ImageURL string
}

type Cart struct {
	ID        string
	MemberID  string
	CreatedAt time.Time
}

type CartLine struct {
	ID        string
	CartID    string
	MemberID  string // owner of the parent cart
	ItemID    string
	Quantity  int
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID        string
	MemberID  string
	Status    Status // see status.go
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Total is derived from the snapshotted lines, never stored.
func (o Order) Total() int64 {
	var total int64
	for _, l := range o.Lines {
		total += l.Subtotal()
	}
	return total
}

func (o Order) TotalQuantity() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

type OrderLine struct {
	ID        string
	OrderID   string
	ItemID    string
	ItemName  string
	Quantity  int
	UnitPrice int64
}

func (l OrderLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}
