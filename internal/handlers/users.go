package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"fieldsales-server/internal/models"
	"fieldsales-server/internal/utils"
)

// UserHandler handles user administration.
type UserHandler struct {
	DB *gorm.DB
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{DB: db}
}

// CreateUserRequest represents the request body for creating a user by an admin.
type CreateUserRequest struct {
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Phone     string `json:"phone" validate:"omitempty,max=30"`
	Area      string `json:"area" validate:"omitempty,max=100"`
	RoleID    string `json:"roleId" validate:"required"`
}

// CreateUser handles creating a new user (admin).
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	role, ok := h.findRole(c, req.RoleID)
	if !ok {
		return
	}

	user := models.User{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     strings.ToLower(req.Email),
		Phone:     req.Phone,
		Area:      req.Area,
		RoleID:    role.ID,
		IsActive:  true,
	}
	if err := user.SetPassword(req.Password); err != nil {
		internalError(c, err, "failed to hash password")
		return
	}

	if err := h.DB.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Conflict(c, "User with this email already exists")
			return
		}
		internalError(c, err, "failed to create user")
		return
	}

	user.Role = *role
	utils.Created(c, "User created successfully", user.Sanitize())
}

// GetUsers lists users, optionally filtered by ?area= and ?roleId=.
func (h *UserHandler) GetUsers(c *gin.Context) {
	page := utils.ParsePage(c)
	q := h.DB.Model(&models.User{})
	if area := c.Query("area"); area != "" {
		q = q.Where("area = ?", area)
	}
	if roleID := c.Query("roleId"); roleID != "" {
		q = q.Where("role_id = ?", roleID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		internalError(c, err, "failed to count users")
		return
	}

	var users []models.User
	if err := q.Preload("Role").Order("email ASC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&users).Error; err != nil {
		internalError(c, err, "failed to fetch users")
		return
	}

	sanitizedUsers := make([]models.UserSanitized, len(users))
	for i := range users {
		sanitizedUsers[i] = users[i].Sanitize()
	}

	utils.Paged(c, "Users fetched successfully", sanitizedUsers, page, total)
}

// GetUserByID handles fetching a single user by ID (admin).
func (h *UserHandler) GetUserByID(c *gin.Context) {
	user, ok := h.findUser(c, c.Param("id"))
	if !ok {
		return
	}
	utils.Success(c, "User fetched successfully", user.Sanitize())
}

// UpdateUserRequest represents the request body for updating a user by an admin.
// Passwords change through the profile endpoint.
type UpdateUserRequest struct {
	FirstName *string `json:"firstName" validate:"omitempty,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,max=100"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phone" validate:"omitempty,max=30"`
	Area      *string `json:"area" validate:"omitempty,max=100"`
	RoleID    *string `json:"roleId"`
	IsActive  *bool   `json:"isActive"`
}

// UpdateUser handles updating a user by ID (admin).
func (h *UserHandler) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, ok := h.findUser(c, c.Param("id"))
	if !ok {
		return
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		updates["last_name"] = *req.LastName
	}
	if req.Email != nil {
		updates["email"] = strings.ToLower(*req.Email)
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Area != nil {
		updates["area"] = *req.Area
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.RoleID != nil && *req.RoleID != user.RoleID {
		role, ok := h.findRole(c, *req.RoleID)
		if !ok {
			return
		}
		updates["role_id"] = role.ID
	}

	if len(updates) > 0 {
		if err := h.DB.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				utils.Conflict(c, "New email is already in use")
				return
			}
			internalError(c, err, "failed to update user")
			return
		}
		// Deactivated users lose their sessions.
		if req.IsActive != nil && !*req.IsActive {
			if err := h.DB.Model(&models.RefreshToken{}).
				Where("user_id = ? AND is_revoked = ?", user.ID, false).
				Update("is_revoked", true).Error; err != nil {
				internalError(c, err, "failed to revoke tokens")
				return
			}
		}
	}

	user, ok = h.findUser(c, user.ID)
	if !ok {
		return
	}
	utils.Success(c, "User updated successfully", user.Sanitize())
}

// DeleteUser removes a user that has no field history. Users with visits or
// calls must be deactivated instead.
func (h *UserHandler) DeleteUser(c *gin.Context) {
	user, ok := h.findUser(c, c.Param("id"))
	if !ok {
		return
	}
	if self, _ := requireUser(c); self == user.ID {
		utils.BadRequest(c, "You cannot delete your own account")
		return
	}

	var history int64
	if err := h.DB.Model(&models.Visit{}).Where("user_id = ?", user.ID).Count(&history).Error; err != nil {
		internalError(c, err, "failed to count visits")
		return
	}
	if history == 0 {
		if err := h.DB.Model(&models.Call{}).Where("user_id = ?", user.ID).Count(&history).Error; err != nil {
			internalError(c, err, "failed to count calls")
			return
		}
	}
	if history > 0 {
		utils.Conflict(c, "User has visits or calls; deactivate the account instead")
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.DailyReport{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", user.ID).Error
	})
	if err != nil {
		internalError(c, err, "failed to delete user")
		return
	}

	utils.Success(c, "User deleted successfully", nil)
}

func (h *UserHandler) findUser(c *gin.Context, id string) (*models.User, bool) {
	var user models.User
	if err := h.DB.Preload("Role").First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "User not found")
		} else {
			internalError(c, err, "failed to load user")
		}
		return nil, false
	}
	return &user, true
}

func (h *UserHandler) findRole(c *gin.Context, id string) (*models.Role, bool) {
	var role models.Role
	if err := h.DB.First(&role, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.BadRequest(c, "Role not found")
		} else {
			internalError(c, err, "failed to load role")
		}
		return nil, false
	}
	return &role, true
}
