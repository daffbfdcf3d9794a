package models

import (
	"time"

	"gorm.io/datatypes"
)

// CallStatus represents the status of a scheduled call
type CallStatus string

const (
	CallStatusScheduled   CallStatus = "SCHEDULED"
	CallStatusCompleted   CallStatus = "COMPLETED"
	CallStatusMissed      CallStatus = "MISSED"
	CallStatusCancelled   CallStatus = "CANCELLED"
	CallStatusRescheduled CallStatus = "RESCHEDULED"
)

// IsOpen reports whether the call can still be completed or rescheduled.
func (s CallStatus) IsOpen() bool {
	return s == CallStatusScheduled || s == CallStatusRescheduled
}

// Call represents a scheduled phone call with a company
type Call struct {
	BaseModel
	UserID          string     `gorm:"size:36;index;not null" json:"userId"`
	CompanyID       string     `gorm:"size:36;index;not null" json:"companyId"`
	ContactID       *string    `gorm:"size:36;index" json:"contactId,omitempty"`
	ScheduledAt     time.Time  `gorm:"index;not null" json:"scheduledAt"`
	Status          CallStatus `gorm:"size:20;index;not null;default:'SCHEDULED'" json:"status"`
	Purpose         string     `gorm:"size:500" json:"purpose"`
	Outcome         string     `gorm:"type:text" json:"outcome,omitempty"`
	DurationSeconds int        `gorm:"default:0" json:"durationSeconds"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`

	// Relations
	User    User     `gorm:"foreignKey:UserID" json:"-"`
	Company *Company `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
	Contact *Contact `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
}

// DailyReport is a stored daily sales report snapshot for one user.
type DailyReport struct {
	BaseModel
	UserID     string         `gorm:"size:36;not null;uniqueIndex:idx_daily_reports_user_date,priority:1" json:"userId"`
	ReportDate time.Time      `gorm:"type:date;not null;uniqueIndex:idx_daily_reports_user_date,priority:2" json:"reportDate"`
	Summary    datatypes.JSON `json:"summary"`
	FileURL    string         `gorm:"size:1024" json:"fileUrl,omitempty"`
}
