package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fieldsales-server/internal/cache"
	"fieldsales-server/internal/models"
)

// CompanyService manages companies and their contacts.
type CompanyService struct {
	db      *gorm.DB
	cache   cacheHelper
	log     zerolog.Logger
	postGIS bool
}

// NewCompanyService creates a new CompanyService. With postGIS set, nearby
// search runs in the database with ST_DWithin.
func NewCompanyService(db *gorm.DB, c cache.Cache, cacheTTL time.Duration, log zerolog.Logger, postGIS bool) *CompanyService {
	return &CompanyService{
		db:      db,
		cache:   newCacheHelper(c, cacheTTL, log),
		log:     log,
		postGIS: postGIS && db.Dialector.Name() == "postgres",
	}
}

// CompanyInput creates a company.
type CompanyInput struct {
	Name      string
	Industry  string
	Phone     string
	Email     string
	Address   string
	City      string
	Area      string
	Region    string
	Latitude  *float64
	Longitude *float64
}

// CompanyPatch updates a company. Nil fields are left alone.
type CompanyPatch struct {
	Name      *string
	Industry  *string
	Phone     *string
	Email     *string
	Address   *string
	City      *string
	Area      *string
	Region    *string
	Latitude  *float64
	Longitude *float64
}

// CompanyFilter narrows ListCompanies.
type CompanyFilter struct {
	Search string
	Area   string
	Region string
	Page   Page
}

// NearbyCompany is a company with its distance from the search point.
type NearbyCompany struct {
	models.Company
	DistanceMeters float64 `json:"distanceMeters"`
}

func checkLocation(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return Validation("latitude and longitude must be supplied together")
	}
	if lat != nil && !validCoordinates(*lat, *lng) {
		return Validation("coordinates out of range")
	}
	return nil
}

// CreateCompany creates a company owned by userID.
func (s *CompanyService) CreateCompany(ctx context.Context, userID string, in CompanyInput) (*models.Company, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, Validation("name is required")
	}
	if err := checkLocation(in.Latitude, in.Longitude); err != nil {
		return nil, err
	}

	company := &models.Company{
		Name:        strings.TrimSpace(in.Name),
		Industry:    in.Industry,
		Phone:       in.Phone,
		Email:       in.Email,
		Address:     in.Address,
		City:        in.City,
		Area:        in.Area,
		Region:      in.Region,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		CreatedByID: userID,
	}
	if err := s.db.WithContext(ctx).Create(company).Error; err != nil {
		return nil, Internal("failed to create company", err)
	}

	s.log.Info().Str("company_id", company.ID).Str("user_id", userID).Msg("company created")
	return company, nil
}

// GetCompany returns a company with its contacts.
func (s *CompanyService) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	var company models.Company
	if s.cache.get(ctx, companyCacheKey(id), &company) {
		return &company, nil
	}

	err := s.db.WithContext(ctx).
		Preload("Contacts", func(db *gorm.DB) *gorm.DB { return db.Order("is_primary DESC, first_name ASC") }).
		First(&company, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("company not found")
		}
		return nil, Internal("failed to load company", err)
	}

	s.cache.set(ctx, companyCacheKey(id), &company)
	return &company, nil
}

// ListCompanies returns companies ordered by name.
func (s *CompanyService) ListCompanies(ctx context.Context, f CompanyFilter) ([]models.Company, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Company{})
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(city) LIKE ?", like, like)
	}
	if f.Area != "" {
		q = q.Where("area = ?", f.Area)
	}
	if f.Region != "" {
		q = q.Where("region = ?", f.Region)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, Internal("failed to count companies", err)
	}

	page := f.Page.Normalize()
	var companies []models.Company
	if err := q.Order("name ASC").Offset(page.Offset()).Limit(page.Limit).Find(&companies).Error; err != nil {
		return nil, 0, Internal("failed to list companies", err)
	}
	return companies, total, nil
}

// UpdateCompany applies a patch.
func (s *CompanyService) UpdateCompany(ctx context.Context, id string, in CompanyPatch) (*models.Company, error) {
	var company models.Company
	if err := s.db.WithContext(ctx).First(&company, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("company not found")
		}
		return nil, Internal("failed to load company", err)
	}

	updates := map[string]interface{}{}
	set := func(col string, v *string, dst *string) {
		if v != nil {
			*dst = *v
			updates[col] = *v
		}
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, Validation("name cannot be empty")
	}
	set("name", in.Name, &company.Name)
	set("industry", in.Industry, &company.Industry)
	set("phone", in.Phone, &company.Phone)
	set("email", in.Email, &company.Email)
	set("address", in.Address, &company.Address)
	set("city", in.City, &company.City)
	set("area", in.Area, &company.Area)
	set("region", in.Region, &company.Region)
	if in.Latitude != nil || in.Longitude != nil {
		if err := checkLocation(in.Latitude, in.Longitude); err != nil {
			return nil, err
		}
		company.Latitude, company.Longitude = in.Latitude, in.Longitude
		updates["latitude"], updates["longitude"] = in.Latitude, in.Longitude
	}
	if len(updates) == 0 {
		return &company, nil
	}

	if err := s.db.WithContext(ctx).Model(&company).Updates(updates).Error; err != nil {
		return nil, Internal("failed to update company", err)
	}
	s.cache.del(ctx, companyCacheKey(id))
	s.log.Info().Str("company_id", id).Msg("company updated")
	return &company, nil
}

// DeleteCompany removes a company and its contacts. Companies with visits or
// calls are kept because visits are never deleted.
func (s *CompanyService) DeleteCompany(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var company models.Company
		if err := tx.First(&company, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("company not found")
			}
			return Internal("failed to load company", err)
		}

		var visits, calls int64
		if err := tx.Model(&models.Visit{}).Where("company_id = ?", id).Count(&visits).Error; err != nil {
			return Internal("failed to count visits", err)
		}
		if err := tx.Model(&models.Call{}).Where("company_id = ?", id).Count(&calls).Error; err != nil {
			return Internal("failed to count calls", err)
		}
		if visits > 0 || calls > 0 {
			return Conflict("company has visits or calls and cannot be deleted")
		}

		if err := tx.Where("company_id = ?", id).Delete(&models.Contact{}).Error; err != nil {
			return Internal("failed to delete contacts", err)
		}
		if err := tx.Delete(&company).Error; err != nil {
			return Internal("failed to delete company", err)
		}

		s.cache.del(ctx, companyCacheKey(id))
		s.log.Info().Str("company_id", id).Msg("company deleted")
		return nil
	})
}

// Nearby returns companies within radius meters of (lat, lng), closest first.
func (s *CompanyService) Nearby(ctx context.Context, lat, lng, radius float64, limit int) ([]NearbyCompany, error) {
	if !validCoordinates(lat, lng) {
		return nil, Validation("coordinates out of range")
	}
	if radius <= 0 {
		return nil, Validation("radius must be positive")
	}
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	if s.postGIS {
		return s.nearbyPostGIS(ctx, lat, lng, radius, limit)
	}
	return s.nearbyScan(ctx, lat, lng, radius, limit)
}

func (s *CompanyService) nearbyPostGIS(ctx context.Context, lat, lng, radius float64, limit int) ([]NearbyCompany, error) {
	var out []NearbyCompany
	err := s.db.WithContext(ctx).Raw(
		`SELECT c.*,
		        ST_Distance(ST_SetSRID(ST_MakePoint(c.longitude, c.latitude), 4326)::geography,
		                    ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) AS distance_meters
		 FROM companies c
		 WHERE c.latitude IS NOT NULL AND c.longitude IS NOT NULL
		   AND ST_DWithin(ST_SetSRID(ST_MakePoint(c.longitude, c.latitude), 4326)::geography,
		                  ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
		 ORDER BY distance_meters ASC
		 LIMIT ?`,
		lng, lat, lng, lat, radius, limit,
	).Scan(&out).Error
	if err != nil {
		return nil, Internal("failed to search nearby companies", err)
	}
	return out, nil
}

func (s *CompanyService) nearbyScan(ctx context.Context, lat, lng, radius float64, limit int) ([]NearbyCompany, error) {
	minLat, maxLat, minLng, maxLng := boundingBox(lat, lng, radius)

	var candidates []models.Company
	err := s.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL").
		Where("latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?", minLat, maxLat, minLng, maxLng).
		Find(&candidates).Error
	if err != nil {
		return nil, Internal("failed to search nearby companies", err)
	}

	out := make([]NearbyCompany, 0, len(candidates))
	for _, c := range candidates {
		d := Haversine(lat, lng, *c.Latitude, *c.Longitude)
		if d <= radius {
			out = append(out, NearbyCompany{Company: c, DistanceMeters: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ContactInput creates or replaces a contact.
type ContactInput struct {
	FirstName   string
	LastName    string
	Designation string
	Phone       string
	Email       string
	IsPrimary   bool
}

// CreateContact adds a contact to a company. A new primary contact demotes
// the previous one.
func (s *CompanyService) CreateContact(ctx context.Context, companyID string, in ContactInput) (*models.Contact, error) {
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, Validation("firstName is required")
	}

	contact := &models.Contact{
		CompanyID:   companyID,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Designation: in.Designation,
		Phone:       in.Phone,
		Email:       in.Email,
		IsPrimary:   in.IsPrimary,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Company{}).Where("id = ?", companyID).Count(&n).Error; err != nil {
			return Internal("failed to load company", err)
		}
		if n == 0 {
			return NotFound("company not found")
		}
		if contact.IsPrimary {
			if err := demotePrimary(tx, companyID, ""); err != nil {
				return err
			}
		}
		if err := tx.Create(contact).Error; err != nil {
			return Internal("failed to create contact", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.del(ctx, companyCacheKey(companyID))
	return contact, nil
}

func demotePrimary(tx *gorm.DB, companyID, exceptID string) error {
	q := tx.Model(&models.Contact{}).Where("company_id = ? AND is_primary = ?", companyID, true)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Update("is_primary", false).Error; err != nil {
		return Internal("failed to update primary contact", err)
	}
	return nil
}

// ListContacts returns a company's contacts, primary first.
func (s *CompanyService) ListContacts(ctx context.Context, companyID string) ([]models.Contact, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Company{}).Where("id = ?", companyID).Count(&n).Error; err != nil {
		return nil, Internal("failed to load company", err)
	}
	if n == 0 {
		return nil, NotFound("company not found")
	}

	var contacts []models.Contact
	if err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("is_primary DESC, first_name ASC").
		Find(&contacts).Error; err != nil {
		return nil, Internal("failed to list contacts", err)
	}
	return contacts, nil
}

// GetContact returns one contact.
func (s *CompanyService) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFound("contact not found")
		}
		return nil, Internal("failed to load contact", err)
	}
	return &contact, nil
}

// UpdateContact replaces a contact's fields.
func (s *CompanyService) UpdateContact(ctx context.Context, id string, in ContactInput) (*models.Contact, error) {
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, Validation("firstName is required")
	}

	var contact models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&contact, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("contact not found")
			}
			return Internal("failed to load contact", err)
		}
		if in.IsPrimary && !contact.IsPrimary {
			if err := demotePrimary(tx, contact.CompanyID, contact.ID); err != nil {
				return err
			}
		}
		contact.FirstName = in.FirstName
		contact.LastName = in.LastName
		contact.Designation = in.Designation
		contact.Phone = in.Phone
		contact.Email = in.Email
		contact.IsPrimary = in.IsPrimary
		if err := tx.Model(&contact).Select("first_name", "last_name", "designation", "phone", "email", "is_primary").Updates(&contact).Error; err != nil {
			return Internal("failed to update contact", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.del(ctx, companyCacheKey(contact.CompanyID))
	return &contact, nil
}

// DeleteContact removes a contact. Calls that referenced it keep their
// history with the contact cleared.
func (s *CompanyService) DeleteContact(ctx context.Context, id string) error {
	var contact models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&contact, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return NotFound("contact not found")
			}
			return Internal("failed to load contact", err)
		}
		if err := tx.Model(&models.Call{}).Where("contact_id = ?", id).Update("contact_id", nil).Error; err != nil {
			return Internal("failed to detach calls", err)
		}
		if err := tx.Delete(&contact).Error; err != nil {
			return Internal("failed to delete contact", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cache.del(ctx, companyCacheKey(contact.CompanyID))
	return nil
}
