package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"fieldsales-server/internal/config"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/utils"
)

func permissionRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/", AuthMiddleware(cfg))
	api.GET("/visits", RequirePermission(models.PermReadVisits), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	api.GET("/users", RequirePermission(models.PermManageUsers), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	api.GET("/override", func(c *gin.Context) {
		if HasPermission(c, models.PermOverrideVisits) {
			c.String(http.StatusOK, "override")
			return
		}
		c.String(http.StatusOK, "plain")
	})
	return r
}

func TestRequirePermission(t *testing.T) {
	cfg := &config.Config{
		JWTSecret:                 "access-secret",
		JWTRefreshSecret:          "refresh-secret",
		JWTExpirationMinutes:      15,
		JWTRefreshExpirationHours: 24,
	}
	user := &models.User{
		BaseModel: models.BaseModel{ID: "user-1"},
		Role:      models.Role{Name: models.RoleSalesRep, Permissions: []string{models.PermReadVisits}},
	}
	access, _, err := utils.GenerateTokens(user, cfg)
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	r := permissionRouter(cfg)

	cases := []struct {
		path   string
		header string
		code   int
		body   string
	}{
		{"/visits", "Bearer " + access, http.StatusOK, "ok"},
		{"/users", "Bearer " + access, http.StatusForbidden, ""},
		{"/override", "Bearer " + access, http.StatusOK, "plain"},
		{"/visits", "", http.StatusUnauthorized, ""},
		{"/visits", "Token " + access, http.StatusUnauthorized, ""},
		{"/visits", "Bearer not-a-token", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Errorf("GET %s with %q = %d, want %d", tc.path, tc.header, w.Code, tc.code)
			continue
		}
		if tc.body != "" && w.Body.String() != tc.body {
			t.Errorf("GET %s body = %q, want %q", tc.path, w.Body.String(), tc.body)
		}
	}
}

func TestHasPermissionWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if HasPermission(c, models.PermReadVisits) {
		t.Error("HasPermission granted without authenticated claims")
	}
	c.Set(ctxClaims, "not claims")
	if HasPermission(c, models.PermReadVisits) {
		t.Error("HasPermission accepted a foreign claims value")
	}
}
