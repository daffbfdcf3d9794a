package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"fieldsales-server/internal/config"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/utils"
)

const refreshCookie = "refresh_token"

// AuthHandler handles authentication-related requests.
type AuthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{DB: db, Cfg: cfg}
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	User         models.UserSanitized `json:"user"`
}

// Login handles user login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var user models.User
	if err := h.DB.Preload("Role").Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Unauthorized(c, "Invalid email or password")
		} else {
			internalError(c, err, "failed to load user")
		}
		return
	}

	if !user.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}
	if !user.IsActive {
		utils.Forbidden(c, "Account is disabled")
		return
	}

	accessToken, refreshToken, err := h.issueTokens(c, &user)
	if err != nil {
		internalError(c, err, "failed to issue tokens")
		return
	}

	utils.Success(c, "Login successful", LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.Sanitize(),
	})
}

// RefreshTokenRequest represents the request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// RefreshTokenResponse represents the response body for successful token refresh.
type RefreshTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken exchanges a refresh token for a new token pair. The old
// refresh token is revoked.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	// Cookie first, then request body
	raw, err := c.Cookie(refreshCookie)
	if err != nil || raw == "" {
		var req RefreshTokenRequest
		if !utils.BindAndValidate(c, &req) {
			return
		}
		raw = req.RefreshToken
	}

	claims, err := utils.ValidateToken(raw, h.Cfg.JWTRefreshSecret)
	if err != nil {
		utils.Unauthorized(c, "Invalid refresh token")
		return
	}

	var user models.User
	var newAccess, newRefresh string
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		// Revoke-on-use; a token that lost the race matches no row.
		res := tx.Model(&models.RefreshToken{}).
			Where("token_hash = ? AND user_id = ? AND is_revoked = ? AND expires_at > ?",
				models.HashToken(raw), claims.UserID, false, time.Now().UTC()).
			Update("is_revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errTokenRejected
		}

		if err := tx.Preload("Role").First(&user, "id = ?", claims.UserID).Error; err != nil {
			return err
		}
		if !user.IsActive {
			return errTokenRejected
		}

		var err error
		newAccess, newRefresh, err = utils.GenerateTokens(&user, h.Cfg)
		if err != nil {
			return err
		}
		return tx.Create(&models.RefreshToken{
			UserID:    user.ID,
			TokenHash: models.HashToken(newRefresh),
			ExpiresAt: utils.RefreshExpiry(h.Cfg),
		}).Error
	})
	if err != nil {
		if errors.Is(err, errTokenRejected) || errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Unauthorized(c, "Refresh token not found, expired, or revoked")
			return
		}
		internalError(c, err, "failed to refresh token")
		return
	}

	h.setRefreshCookie(c, newRefresh, h.Cfg.JWTRefreshExpirationHours*60*60)
	utils.Success(c, "Access token refreshed successfully", RefreshTokenResponse{
		AccessToken:  newAccess,
		RefreshToken: newRefresh,
	})
}

var errTokenRejected = errors.New("refresh token rejected")

// LogoutRequest represents the request body for user logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the given refresh token. Unknown or already revoked
// tokens still log out successfully.
func (h *AuthHandler) Logout(c *gin.Context) {
	raw, _ := c.Cookie(refreshCookie)
	if raw == "" {
		var req LogoutRequest
		_ = c.ShouldBindJSON(&req)
		raw = req.RefreshToken
	}
	if raw == "" {
		utils.BadRequest(c, "Refresh token is required")
		return
	}

	err := h.DB.Model(&models.RefreshToken{}).
		Where("token_hash = ? AND is_revoked = ?", models.HashToken(raw), false).
		Updates(map[string]interface{}{"is_revoked": true, "expires_at": time.Now().UTC()}).Error
	if err != nil {
		internalError(c, err, "failed to revoke refresh token")
		return
	}

	h.setRefreshCookie(c, "", -1)
	utils.Success(c, "Logout successful", nil)
}

// GetProfile handles fetching the currently authenticated user's profile.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	utils.Success(c, "Profile fetched successfully", user.Sanitize())
}

// UpdateProfileRequest represents the request body for updating user profile.
type UpdateProfileRequest struct {
	FirstName string `json:"firstName" validate:"omitempty,max=100"`
	LastName  string `json:"lastName" validate:"omitempty,max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=30"`
}

// UpdateProfile handles updating the currently authenticated user's profile.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	if req.Phone != "" {
		user.Phone = req.Phone
	}

	if err := h.DB.Model(user).Updates(map[string]interface{}{
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"phone":      user.Phone,
	}).Error; err != nil {
		internalError(c, err, "failed to update profile")
		return
	}

	utils.Success(c, "Profile updated successfully", user.Sanitize())
}

// ChangePasswordRequest represents the request body for changing the password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

// ChangePassword replaces the caller's password and revokes every refresh
// token they hold.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	if !user.CheckPassword(req.CurrentPassword) {
		utils.BadRequest(c, "Current password is incorrect")
		return
	}
	if err := user.SetPassword(req.NewPassword); err != nil {
		internalError(c, err, "failed to hash password")
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Update("password", user.Password).Error; err != nil {
			return err
		}
		return tx.Model(&models.RefreshToken{}).
			Where("user_id = ? AND is_revoked = ?", user.ID, false).
			Update("is_revoked", true).Error
	})
	if err != nil {
		internalError(c, err, "failed to change password")
		return
	}

	h.setRefreshCookie(c, "", -1)
	utils.Success(c, "Password changed successfully", nil)
}

func (h *AuthHandler) currentUser(c *gin.Context) (*models.User, bool) {
	userID, ok := requireUser(c)
	if !ok {
		return nil, false
	}

	var user models.User
	if err := h.DB.Preload("Role").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "User profile not found")
		} else {
			internalError(c, err, "failed to load user")
		}
		return nil, false
	}
	return &user, true
}

func (h *AuthHandler) issueTokens(c *gin.Context, user *models.User) (string, string, error) {
	accessToken, refreshToken, err := utils.GenerateTokens(user, h.Cfg)
	if err != nil {
		return "", "", err
	}
	if err := h.DB.Create(&models.RefreshToken{
		UserID:    user.ID,
		TokenHash: models.HashToken(refreshToken),
		ExpiresAt: utils.RefreshExpiry(h.Cfg),
	}).Error; err != nil {
		return "", "", err
	}
	h.setRefreshCookie(c, refreshToken, h.Cfg.JWTRefreshExpirationHours*60*60)
	return accessToken, refreshToken, nil
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, value string, maxAge int) {
	c.SetCookie(refreshCookie, value, maxAge, "/", "", h.Cfg.Environment != "development", true)
}
