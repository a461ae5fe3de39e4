// Package models contains domain types for scantrail.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Project represents a software project tracked across scans. A
// project owns zero or more reports and zero or more unique issues.
type Project struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	ScanSystemKey string    `json:"scan_system_key"`
	CreatedAt     time.Time `json:"created_at"`
}
