package handlers

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"fieldsales-server/internal/models"
	"fieldsales-server/internal/utils"
)

// RoleHandler manages roles and their permissions.
type RoleHandler struct {
	DB *gorm.DB
}

// NewRoleHandler creates a new RoleHandler.
func NewRoleHandler(db *gorm.DB) *RoleHandler {
	return &RoleHandler{DB: db}
}

// RoleRequest is the body for creating or replacing a role.
type RoleRequest struct {
	Name        string   `json:"name" validate:"required,max=50"`
	Description string   `json:"description" validate:"max=255"`
	Permissions []string `json:"permissions" validate:"required"`
}

// CreateRole creates a role.
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req RoleRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	if err := checkPermissions(req.Permissions); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	role := models.Role{Name: req.Name, Description: req.Description, Permissions: dedupe(req.Permissions)}
	if err := h.DB.Create(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Conflict(c, "Role with this name already exists")
			return
		}
		internalError(c, err, "failed to create role")
		return
	}
	utils.Created(c, "Role created successfully", role)
}

// GetRoles lists all roles.
func (h *RoleHandler) GetRoles(c *gin.Context) {
	var roles []models.Role
	if err := h.DB.Order("name ASC").Find(&roles).Error; err != nil {
		internalError(c, err, "failed to fetch roles")
		return
	}
	utils.Success(c, "Roles fetched successfully", roles)
}

// GetRole returns one role.
func (h *RoleHandler) GetRole(c *gin.Context) {
	role, ok := h.findRole(c)
	if !ok {
		return
	}
	utils.Success(c, "Role fetched successfully", role)
}

// UpdateRole replaces a role's name, description and permissions. Tokens
// already issued keep their permissions until they expire.
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	var req RoleRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	if err := checkPermissions(req.Permissions); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	role, ok := h.findRole(c)
	if !ok {
		return
	}
	role.Name = req.Name
	role.Description = req.Description
	role.Permissions = dedupe(req.Permissions)

	if err := h.DB.Save(role).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Conflict(c, "Role with this name already exists")
			return
		}
		internalError(c, err, "failed to update role")
		return
	}
	utils.Success(c, "Role updated successfully", role)
}

// DeleteRole deletes a role no user is assigned to.
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	role, ok := h.findRole(c)
	if !ok {
		return
	}

	var assigned int64
	if err := h.DB.Model(&models.User{}).Where("role_id = ?", role.ID).Count(&assigned).Error; err != nil {
		internalError(c, err, "failed to count role users")
		return
	}
	if assigned > 0 {
		utils.Conflict(c, fmt.Sprintf("Role is assigned to %d user(s)", assigned))
		return
	}

	if err := h.DB.Delete(role).Error; err != nil {
		internalError(c, err, "failed to delete role")
		return
	}
	utils.Success(c, "Role deleted successfully", nil)
}

func (h *RoleHandler) findRole(c *gin.Context) (*models.Role, bool) {
	var role models.Role
	if err := h.DB.First(&role, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "Role not found")
		} else {
			internalError(c, err, "failed to load role")
		}
		return nil, false
	}
	return &role, true
}

func checkPermissions(perms []string) error {
	for _, p := range perms {
		if !models.IsKnownPermission(p) {
			return fmt.Errorf("unknown permission %q", p)
		}
	}
	return nil
}

func dedupe(perms []string) []string {
	seen := make(map[string]bool, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
