package model

import "time"

// Member is the subset of the member profile the checkout core reads.
type Member struct {
	ID      int64
	Name    string
	LevelID *int64
}

// Address is an address-book row owned by a member.
type Address struct {
	ID            int64
	MemberID      int64
	RecipientName string
	Phone         string
	City          string
	District      string
	Detail        string
	IsDefault     bool
	CreatedAt     time.Time
}

// Variant is a purchasable product variant joined with its product row.
type Variant struct {
	ID            int64
	ProductID     int64
	ProductName   string
	VariantName   string
	VendorID      *int64 // nil = platform-sold
	Price         int64
	Stock         int
	ProductActive bool
}
