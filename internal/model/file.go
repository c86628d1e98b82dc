package model

import (
	"time"
)

// FileRole distinguishes the client's source model from the platform's
// delivered upgrade.
type FileRole string

const (
	RoleInput  FileRole = "input"
	RoleOutput FileRole = "output"
)

func (r FileRole) Valid() bool {
	return r == RoleInput || r == RoleOutput
}

// File records a transferred artifact. Rows are append-only: a file is
// created when its upload is confirmed and never mutated afterwards.
// SizeBytes is client-reported and advisory only.
type File struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	Role        FileRole  `json:"role"`
	Name        string    `json:"name"`
	SizeBytes   *int64    `json:"size_bytes,omitempty"`
	StorageKey  string    `json:"-"`
	ContentType *string   `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
