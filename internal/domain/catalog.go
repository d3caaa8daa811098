package domain

import "github.com/shopspring/decimal"

// User is the subset of the user directory record the order workflow reads.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Product is the subset of the catalog record the order workflow reads.
// Price is authoritative and overrides anything a client submits.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}
