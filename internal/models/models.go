package models

import (
	"math"
	"time"
)

// StatusCreated is the status every alert starts with.
const StatusCreated = "created"

// MaxStatusLength is the width of the status column.
const MaxStatusLength = 20

// Alert represents a price-threshold watch owned by a single principal
type Alert struct {
	ID          int64     `json:"id" db:"id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	TargetPrice float64   `json:"target_price" db:"target_price"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// AlertSummary is the per-item shape returned by list queries
type AlertSummary struct {
	ID          int64   `json:"id"`
	TargetPrice float64 `json:"target_price"`
	Status      string  `json:"status"`
}

// Pagination describes where a page sits in the full result set
type Pagination struct {
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	TotalAlerts int `json:"total_alerts"`
}

// AlertPage is a rendered list query result. It is what the query cache stores.
type AlertPage struct {
	Alerts     []AlertSummary `json:"alerts"`
	Pagination Pagination     `json:"pagination"`
}

// Summary returns the list view of the alert.
func (a *Alert) Summary() AlertSummary {
	return AlertSummary{ID: a.ID, TargetPrice: a.TargetPrice, Status: a.Status}
}

// TotalPages returns ceil(total/perPage), 0 when there is nothing to page.
func TotalPages(total, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// NewAlertPage renders one page of query results.
func NewAlertPage(items []*Alert, total, page, perPage int) *AlertPage {
	summaries := make([]AlertSummary, 0, len(items))
	for _, a := range items {
		summaries = append(summaries, a.Summary())
	}
	return &AlertPage{
		Alerts: summaries,
		Pagination: Pagination{
			TotalPages:  TotalPages(total, perPage),
			CurrentPage: page,
			PerPage:     perPage,
			TotalAlerts: total,
		},
	}
}

// ValidateTargetPrice rejects prices that are not strictly positive finite numbers.
func ValidateTargetPrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return NewValidationError("target_price must be a finite number")
	}
	if price <= 0 {
		return NewValidationError("target_price must be greater than zero")
	}
	return nil
}

// ValidateStatus rejects empty or over-long status tags.
func ValidateStatus(status string) error {
	if status == "" {
		return NewValidationError("status must not be empty")
	}
	if len(status) > MaxStatusLength {
		return NewValidationError("status must be at most 20 characters")
	}
	return nil
}
