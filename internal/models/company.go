package models

// Company is a customer or prospect that representatives visit.
type Company struct {
	BaseModel
	Name        string   `gorm:"size:255;not null;index" json:"name"`
	Industry    string   `gorm:"size:100" json:"industry,omitempty"`
	Phone       string   `gorm:"size:30" json:"phone,omitempty"`
	Email       string   `gorm:"size:255" json:"email,omitempty"`
	Address     string   `gorm:"size:500" json:"address,omitempty"`
	City        string   `gorm:"size:100" json:"city,omitempty"`
	Area        string   `gorm:"size:100;index" json:"area,omitempty"`
	Region      string   `gorm:"size:100;index" json:"region,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	CreatedByID string   `gorm:"size:36;index" json:"createdById"`

	Contacts []Contact `gorm:"foreignKey:CompanyID;constraint:OnDelete:CASCADE" json:"contacts,omitempty"`
}

// HasLocation reports whether the company has coordinates for geofencing.
func (c *Company) HasLocation() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// Contact is a person at a company.
type Contact struct {
	BaseModel
	CompanyID   string `gorm:"size:36;index;not null" json:"companyId"`
	FirstName   string `gorm:"size:100;not null" json:"firstName"`
	LastName    string `gorm:"size:100" json:"lastName"`
	Designation string `gorm:"size:100" json:"designation,omitempty"`
	Phone       string `gorm:"size:30" json:"phone,omitempty"`
	Email       string `gorm:"size:255" json:"email,omitempty"`
	IsPrimary   bool   `gorm:"default:false" json:"isPrimary"`
}
