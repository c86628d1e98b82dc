package model

import (
	"time"
)

// Status is an order's position in the fixed lifecycle. Transitions are
// linear and forward-only; the engine in internal/lifecycle is the only
// code allowed to move it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusUploaded, StatusProcessing, StatusComplete:
		return true
	}
	return false
}

// Rank is the status's position in the linear lifecycle, -1 for unknown
// values. Callers use it to tell "not yet" from "already past".
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPaid:
		return 1
	case StatusUploaded:
		return 2
	case StatusProcessing:
		return 3
	case StatusComplete:
		return 4
	}
	return -1
}

// UnitPriceSar is the fixed per-sheet price in whole Saudi riyals.
const UnitPriceSar int64 = 150

// MaxSheetCount bounds a single order.
const MaxSheetCount = 1000

type Order struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	SheetCount        int        `json:"sheet_count"`
	TotalPriceSar     int64      `json:"total_price_sar"`
	Status            Status     `json:"status"`
	CheckoutSessionID *string    `json:"checkout_session_id,omitempty"`
	PaymentRef        *string    `json:"payment_ref,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	UploadedAt        *time.Time `json:"uploaded_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// OrderWithUser is the admin listing row: the order plus a summary of its
// owning user.
type OrderWithUser struct {
	Order
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}
