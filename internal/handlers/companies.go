package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"fieldsales-server/internal/services"
	"fieldsales-server/internal/utils"
)

// CompanyHandler serves companies and their contacts.
type CompanyHandler struct {
	Companies *services.CompanyService
}

// NewCompanyHandler creates a new CompanyHandler.
func NewCompanyHandler(companies *services.CompanyService) *CompanyHandler {
	return &CompanyHandler{Companies: companies}
}

// CompanyRequest is the body for creating a company.
type CompanyRequest struct {
	Name      string   `json:"name" validate:"required,max=255"`
	Industry  string   `json:"industry" validate:"max=100"`
	Phone     string   `json:"phone" validate:"max=30"`
	Email     string   `json:"email" validate:"omitempty,email"`
	Address   string   `json:"address" validate:"max=500"`
	City      string   `json:"city" validate:"max=100"`
	Area      string   `json:"area" validate:"max=100"`
	Region    string   `json:"region" validate:"max=100"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
}

// UpdateCompanyRequest patches a company. Absent fields are left alone.
type UpdateCompanyRequest struct {
	Name      *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Industry  *string  `json:"industry" validate:"omitempty,max=100"`
	Phone     *string  `json:"phone" validate:"omitempty,max=30"`
	Email     *string  `json:"email" validate:"omitempty,email"`
	Address   *string  `json:"address" validate:"omitempty,max=500"`
	City      *string  `json:"city" validate:"omitempty,max=100"`
	Area      *string  `json:"area" validate:"omitempty,max=100"`
	Region    *string  `json:"region" validate:"omitempty,max=100"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
}

// ContactRequest is the body for creating or replacing a contact.
type ContactRequest struct {
	FirstName   string `json:"firstName" validate:"required,max=100"`
	LastName    string `json:"lastName" validate:"max=100"`
	Designation string `json:"designation" validate:"max=100"`
	Phone       string `json:"phone" validate:"max=30"`
	Email       string `json:"email" validate:"omitempty,email"`
	IsPrimary   bool   `json:"isPrimary"`
}

func (r ContactRequest) input() services.ContactInput {
	return services.ContactInput{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Designation: r.Designation,
		Phone:       r.Phone,
		Email:       r.Email,
		IsPrimary:   r.IsPrimary,
	}
}

// CreateCompany creates a company.
func (h *CompanyHandler) CreateCompany(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req CompanyRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	company, err := h.Companies.CreateCompany(c.Request.Context(), userID, services.CompanyInput{
		Name:      req.Name,
		Industry:  req.Industry,
		Phone:     req.Phone,
		Email:     req.Email,
		Address:   req.Address,
		City:      req.City,
		Area:      req.Area,
		Region:    req.Region,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, "Company created successfully", company)
}

// GetCompanies lists companies filtered by ?search=, ?area= and ?region=.
func (h *CompanyHandler) GetCompanies(c *gin.Context) {
	page := utils.ParsePage(c)
	companies, total, err := h.Companies.ListCompanies(c.Request.Context(), services.CompanyFilter{
		Search: c.Query("search"),
		Area:   c.Query("area"),
		Region: c.Query("region"),
		Page:   page,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Paged(c, "Companies fetched successfully", companies, page, total)
}

// GetNearbyCompanies finds companies around ?lat=&lng= within ?radius= meters.
func (h *CompanyHandler) GetNearbyCompanies(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		utils.BadRequest(c, "lat and lng query parameters are required")
		return
	}
	radius := 1000.0
	if raw := c.Query("radius"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			utils.BadRequest(c, "radius must be a number")
			return
		}
		radius = r
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	companies, err := h.Companies.Nearby(c.Request.Context(), lat, lng, radius, limit)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Nearby companies fetched successfully", companies)
}

// GetCompany returns a company with its contacts.
func (h *CompanyHandler) GetCompany(c *gin.Context) {
	company, err := h.Companies.GetCompany(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Company fetched successfully", company)
}

// UpdateCompany patches a company.
func (h *CompanyHandler) UpdateCompany(c *gin.Context) {
	var req UpdateCompanyRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	company, err := h.Companies.UpdateCompany(c.Request.Context(), c.Param("id"), services.CompanyPatch{
		Name:      req.Name,
		Industry:  req.Industry,
		Phone:     req.Phone,
		Email:     req.Email,
		Address:   req.Address,
		City:      req.City,
		Area:      req.Area,
		Region:    req.Region,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Company updated successfully", company)
}

// DeleteCompany deletes a company without visits or calls.
func (h *CompanyHandler) DeleteCompany(c *gin.Context) {
	if err := h.Companies.DeleteCompany(c.Request.Context(), c.Param("id")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Company deleted successfully", nil)
}

// CreateContact adds a contact to the company in the path.
func (h *CompanyHandler) CreateContact(c *gin.Context) {
	var req ContactRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	contact, err := h.Companies.CreateContact(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Created(c, "Contact created successfully", contact)
}

// GetContacts lists the contacts of the company in the path.
func (h *CompanyHandler) GetContacts(c *gin.Context) {
	contacts, err := h.Companies.ListContacts(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Contacts fetched successfully", contacts)
}

// GetContact returns one contact.
func (h *CompanyHandler) GetContact(c *gin.Context) {
	contact, err := h.Companies.GetContact(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Contact fetched successfully", contact)
}

// UpdateContact replaces a contact's details.
func (h *CompanyHandler) UpdateContact(c *gin.Context) {
	var req ContactRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	contact, err := h.Companies.UpdateContact(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Contact updated successfully", contact)
}

// DeleteContact deletes a contact.
func (h *CompanyHandler) DeleteContact(c *gin.Context) {
	if err := h.Companies.DeleteContact(c.Request.Context(), c.Param("id")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.Success(c, "Contact deleted successfully", nil)
}
