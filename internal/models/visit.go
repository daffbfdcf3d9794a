package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Visit is one representative's engagement with one company.
// See visit_status.go for how Status moves.
type Visit struct {
	BaseModel
	UserID    string      `gorm:"size:36;index;not null" json:"userId"`
	CompanyID string      `gorm:"size:36;index;not null" json:"companyId"`
	StartTime time.Time   `gorm:"index;not null" json:"startTime"`
	EndTime   *time.Time  `json:"endTime"`
	Status    VisitStatus `gorm:"size:30;index;not null;default:'PLANNED'" json:"status"`
	Purpose   string      `gorm:"size:500;not null" json:"purpose"`
	Notes     string      `gorm:"type:text" json:"notes"`

	// Check-in location.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `gorm:"size:500" json:"address,omitempty"`

	// CheckedInAt is nil until the representative arrives on site.
	CheckedInAt *time.Time `json:"checkedInAt,omitempty"`

	// Check-out location.
	CheckOutLatitude  *float64 `json:"checkOutLatitude,omitempty"`
	CheckOutLongitude *float64 `json:"checkOutLongitude,omitempty"`

	DistanceMeters  *float64 `json:"distanceMeters,omitempty"`
	WithinGeofence  *bool    `json:"withinGeofence,omitempty"`
	DurationMinutes *int     `json:"durationMinutes,omitempty"`

	// Relations
	User      User         `gorm:"foreignKey:UserID" json:"-"`
	Company   *Company     `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
	Photos    []VisitPhoto `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"photos,omitempty"`
	FollowUps []FollowUp   `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"followUps,omitempty"`
	Payments  []Payment    `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE" json:"payments,omitempty"`
}

// VisitPhoto is photographic evidence captured during a visit.
type VisitPhoto struct {
	BaseModel
	VisitID     string `gorm:"size:36;index;not null" json:"visitId"`
	PhotoURL    string `gorm:"size:1024;not null" json:"photoUrl"`
	StorageKey  string `gorm:"size:512;not null" json:"-"`
	ContentType string `gorm:"size:100" json:"contentType"`
	Caption     string `gorm:"size:500" json:"caption,omitempty"`
}

// FollowUpStatus is the state of a follow-up action.
type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "PENDING"
	FollowUpCompleted FollowUpStatus = "COMPLETED"
	FollowUpCancelled FollowUpStatus = "CANCELLED"
)

// FollowUpPriority ranks follow-ups.
type FollowUpPriority string

const (
	PriorityLow    FollowUpPriority = "LOW"
	PriorityMedium FollowUpPriority = "MEDIUM"
	PriorityHigh   FollowUpPriority = "HIGH"
)

// FollowUp is a scheduled future action tied to a visit.
type FollowUp struct {
	BaseModel
	VisitID     string           `gorm:"size:36;index;not null" json:"visitId"`
	DueDate     time.Time        `gorm:"index;not null" json:"dueDate"`
	Status      FollowUpStatus   `gorm:"size:20;index;not null;default:'PENDING'" json:"status"`
	Priority    FollowUpPriority `gorm:"size:10;not null;default:'MEDIUM'" json:"priority"`
	Notes       string           `gorm:"type:text" json:"notes"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`

	Visit *Visit `gorm:"foreignKey:VisitID" json:"visit,omitempty"`
}

// PaymentMethod is how a payment was collected.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentCheque       PaymentMethod = "CHEQUE"
	PaymentOnline       PaymentMethod = "ONLINE"
	PaymentUPI          PaymentMethod = "UPI"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Payment is money collected against a visit.
type Payment struct {
	BaseModel
	VisitID       string          `gorm:"size:36;index;not null" json:"visitId"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	PaymentMethod PaymentMethod   `gorm:"size:20;not null" json:"paymentMethod"`
	Reference     string          `gorm:"size:255" json:"reference,omitempty"`
	Notes         string          `gorm:"type:text" json:"notes,omitempty"`
}
