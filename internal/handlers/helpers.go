package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fieldsales-server/internal/middleware"
	"fieldsales-server/internal/utils"
)

// internalError logs err with the request logger and sends a generic 500.
func internalError(c *gin.Context, err error, msg string) {
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	utils.InternalServerError(c, "Something went wrong, please try again")
}

// requireUser returns the authenticated user id or answers 401.
func requireUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return "", false
	}
	return userID, true
}
