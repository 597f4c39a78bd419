package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/funding"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusProcessing         Status = "processing"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusPartiallyCompleted Status = "partially_completed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

type AreaStatus string

const (
	AreaPending    AreaStatus = "pending"
	AreaProcessing AreaStatus = "processing"
	AreaCompleted  AreaStatus = "completed"
	AreaFailed     AreaStatus = "failed"
)

type AreaType string

const (
	AreaFrontYard AreaType = "front_yard"
	AreaBackyard  AreaType = "backyard"
	AreaWalkway   AreaType = "walkway"
	AreaSideYard  AreaType = "side_yard"
	AreaPatio     AreaType = "patio"
	AreaPoolArea  AreaType = "pool_area"
)

func (a AreaType) Valid() bool {
	switch a {
	case AreaFrontYard, AreaBackyard, AreaWalkway, AreaSideYard, AreaPatio, AreaPoolArea:
		return true
	default:
		return false
	}
}

// StreetLevel reports whether the area is visible from the street. The rest
// are only reachable through aerial imagery.
func (a AreaType) StreetLevel() bool {
	switch a {
	case AreaFrontYard, AreaWalkway, AreaSideYard:
		return true
	default:
		return false
	}
}

type Style string

const (
	StyleModern        Style = "modern"
	StyleTraditional   Style = "traditional"
	StyleCottage       Style = "cottage"
	StyleXeriscape     Style = "xeriscape"
	StyleTropical      Style = "tropical"
	StyleJapanese      Style = "japanese"
	StyleMediterranean Style = "mediterranean"
)

func (s Style) Valid() bool {
	switch s {
	case StyleModern, StyleTraditional, StyleCottage, StyleXeriscape, StyleTropical, StyleJapanese, StyleMediterranean:
		return true
	default:
		return false
	}
}

// Failure codes recorded on failed areas.
const (
	FailureImageryUnavailable = "imagery_unavailable"
	FailureQuotaExceeded      = "imagery_quota_exceeded"
	FailureModel              = "model_error"
	FailureTimeout            = "timeout"
	FailureInterrupted        = "interrupted"
	FailureInternal           = "internal_error"
)

// Request is one customer design request. UnitsDebited is fixed at creation
// and UnitsRefunded never exceeds it.
type Request struct {
	ID                  snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID           snowflake.ID   `gorm:"not null;index:ix_generation_requests_account,priority:1" json:"account_id"`
	Address             string         `gorm:"type:text;not null" json:"address"`
	Status              Status         `gorm:"type:text;not null;index" json:"status"`
	FundingSource       funding.Source `gorm:"type:text;not null" json:"funding_source"`
	UnitsDebited        int            `gorm:"not null;check:chk_generation_requests_units_debited,units_debited >= 1" json:"units_debited"`
	UnitsRefunded       int            `gorm:"not null;default:0;check:chk_generation_requests_units_refunded,units_refunded >= 0 AND units_refunded <= units_debited" json:"units_refunded"`
	LedgerTransactionID snowflake.ID   `gorm:"not null" json:"ledger_transaction_id"`
	CreatedAt           time.Time      `gorm:"not null;index:ix_generation_requests_account,priority:2" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null" json:"updated_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	Areas               []AreaItem     `gorm:"foreignKey:GenerationID" json:"areas"`
}

func (Request) TableName() string { return "generation_requests" }

type AreaItem struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	GenerationID  snowflake.ID `gorm:"not null;index;uniqueIndex:ux_generation_area_items_type,priority:1" json:"generation_id"`
	Position      int          `gorm:"not null" json:"position"`
	AreaType      AreaType     `gorm:"type:text;not null;uniqueIndex:ux_generation_area_items_type,priority:2" json:"area_type"`
	Style         Style        `gorm:"type:text;not null" json:"style"`
	CustomPrompt  string       `gorm:"type:text;not null;default:''" json:"custom_prompt,omitempty"`
	Status        AreaStatus   `gorm:"type:text;not null;index" json:"status"`
	ImagerySource string       `gorm:"type:text;not null;default:''" json:"imagery_source,omitempty"`
	ResultURL     string       `gorm:"type:text;not null;default:''" json:"result_url,omitempty"`
	ErrorCode     string       `gorm:"type:text;not null;default:''" json:"error_code,omitempty"`
	ErrorDetail   string       `gorm:"type:text;not null;default:''" json:"error_detail,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	RefundedAt    *time.Time   `json:"refunded_at,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}

func (AreaItem) TableName() string { return "generation_area_items" }

// Refunded is the refund signal shown next to a failed area.
func (a AreaItem) Refunded() bool { return a.RefundedAt != nil }

// Reconcile derives the request status from its areas.
func Reconcile(areas []AreaItem) Status {
	if len(areas) == 0 {
		return StatusPending
	}
	var completed, failed, pending int
	for _, area := range areas {
		switch area.Status {
		case AreaCompleted:
			completed++
		case AreaFailed:
			failed++
		case AreaPending:
			pending++
		}
	}
	switch {
	case completed == len(areas):
		return StatusCompleted
	case failed == len(areas):
		return StatusFailed
	case completed+failed == len(areas):
		return StatusPartiallyCompleted
	case pending == len(areas):
		return StatusPending
	default:
		return StatusProcessing
	}
}
