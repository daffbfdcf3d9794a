package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"fieldsales-server/internal/config"
	"fieldsales-server/internal/handlers"
	"fieldsales-server/internal/middleware"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/services"
)

// Deps carries what the handlers need.
type Deps struct {
	DB        *gorm.DB
	Cfg       *config.Config
	Visits    *services.VisitService
	Companies *services.CompanyService
	Calls     *services.CallService
	Reports   *services.ReportService
	// UploadDir is served under /uploads when photos are stored on local disk.
	UploadDir string
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, d Deps) {
	authHandler := handlers.NewAuthHandler(d.DB, d.Cfg)
	userHandler := handlers.NewUserHandler(d.DB)
	roleHandler := handlers.NewRoleHandler(d.DB)
	companyHandler := handlers.NewCompanyHandler(d.Companies)
	visitHandler := handlers.NewVisitHandler(d.Visits, d.Cfg.Storage.MaxUploadMB)
	callHandler := handlers.NewCallHandler(d.Calls)
	reportHandler := handlers.NewReportHandler(d.Reports)

	perm := middleware.RequirePermission

	// Public routes (no authentication required)
	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh-token", authHandler.RefreshToken)
		}
	}

	// Authenticated routes
	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(d.Cfg))
	{
		authRoutesPrivate := private.Group("/auth")
		{
			authRoutesPrivate.POST("/logout", authHandler.Logout)
			authRoutesPrivate.GET("/profile", authHandler.GetProfile)
			authRoutesPrivate.PUT("/profile", authHandler.UpdateProfile)
			authRoutesPrivate.PUT("/password", authHandler.ChangePassword)
		}

		userRoutes := private.Group("/users", perm(models.PermManageUsers))
		{
			userRoutes.POST("", userHandler.CreateUser)
			userRoutes.GET("", userHandler.GetUsers)
			userRoutes.GET("/:id", userHandler.GetUserByID)
			userRoutes.PUT("/:id", userHandler.UpdateUser)
			userRoutes.DELETE("/:id", userHandler.DeleteUser)
		}

		roleRoutes := private.Group("/roles", perm(models.PermManageRoles))
		{
			roleRoutes.POST("", roleHandler.CreateRole)
			roleRoutes.GET("", roleHandler.GetRoles)
			roleRoutes.GET("/:id", roleHandler.GetRole)
			roleRoutes.PUT("/:id", roleHandler.UpdateRole)
			roleRoutes.DELETE("/:id", roleHandler.DeleteRole)
		}

		companyRoutes := private.Group("/companies")
		{
			companyRoutes.POST("", perm(models.PermCreateCompanies), companyHandler.CreateCompany)
			companyRoutes.GET("", perm(models.PermReadCompanies), companyHandler.GetCompanies)
			companyRoutes.GET("/nearby", perm(models.PermReadCompanies), companyHandler.GetNearbyCompanies)
			companyRoutes.GET("/:id", perm(models.PermReadCompanies), companyHandler.GetCompany)
			companyRoutes.PUT("/:id", perm(models.PermUpdateCompanies), companyHandler.UpdateCompany)
			companyRoutes.DELETE("/:id", perm(models.PermDeleteCompanies), companyHandler.DeleteCompany)

			companyRoutes.POST("/:id/contacts", perm(models.PermCreateContacts), companyHandler.CreateContact)
			companyRoutes.GET("/:id/contacts", perm(models.PermReadContacts), companyHandler.GetContacts)
		}

		contactRoutes := private.Group("/contacts")
		{
			contactRoutes.GET("/:id", perm(models.PermReadContacts), companyHandler.GetContact)
			contactRoutes.PUT("/:id", perm(models.PermUpdateContacts), companyHandler.UpdateContact)
			contactRoutes.DELETE("/:id", perm(models.PermDeleteContacts), companyHandler.DeleteContact)
		}

		// Visit lifecycle. Ownership is enforced by the service.
		visitRoutes := private.Group("/visits")
		{
			visitRoutes.POST("", perm(models.PermCreateVisits), visitHandler.ScheduleVisit)
			visitRoutes.GET("", perm(models.PermReadVisits), visitHandler.GetVisits)
			visitRoutes.GET("/active", perm(models.PermReadVisits), visitHandler.GetActiveVisit)
			visitRoutes.POST("/check-in", perm(models.PermCreateVisits), visitHandler.CheckIn)
			visitRoutes.GET("/:id", perm(models.PermReadVisits), visitHandler.GetVisit)
			visitRoutes.PUT("/:id", perm(models.PermUpdateVisits), visitHandler.UpdateVisit)
			visitRoutes.POST("/:id/check-out", perm(models.PermUpdateVisits), visitHandler.CheckOut)
			visitRoutes.POST("/:id/photos", perm(models.PermUpdateVisits), visitHandler.UploadPhoto)
			visitRoutes.POST("/:id/follow-ups", perm(models.PermUpdateVisits), visitHandler.CreateFollowUp)
			visitRoutes.POST("/:id/payments", perm(models.PermUpdateVisits), visitHandler.RecordPayment)
			visitRoutes.POST("/:id/complete", perm(models.PermUpdateVisits), visitHandler.CompleteVisit)
			visitRoutes.POST("/:id/cancel", perm(models.PermUpdateVisits), visitHandler.CancelVisit)
		}

		followUpRoutes := private.Group("/follow-ups")
		{
			followUpRoutes.GET("", perm(models.PermReadVisits), visitHandler.GetFollowUps)
			followUpRoutes.PATCH("/:id/status", perm(models.PermUpdateVisits), visitHandler.UpdateFollowUpStatus)
		}

		callRoutes := private.Group("/calls")
		{
			callRoutes.POST("", perm(models.PermCreateCalls), callHandler.ScheduleCall)
			callRoutes.GET("", perm(models.PermReadCalls), callHandler.GetCalls)
			callRoutes.GET("/:id", perm(models.PermReadCalls), callHandler.GetCall)
			callRoutes.PATCH("/:id/status", perm(models.PermUpdateCalls), callHandler.UpdateCallStatus)
			callRoutes.PATCH("/:id/reschedule", perm(models.PermUpdateCalls), callHandler.RescheduleCall)
		}

		reportRoutes := private.Group("/reports", perm(models.PermReadReports))
		{
			reportRoutes.GET("/daily", reportHandler.GetDailyReport)
			reportRoutes.GET("/weekly", reportHandler.GetWeeklyReport)
			reportRoutes.GET("/monthly", reportHandler.GetMonthlyReport)
		}
	}

	if d.UploadDir != "" {
		router.Static("/uploads", d.UploadDir)
	}

	router.GET("/health", func(c *gin.Context) {
		if sqlDB, err := d.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
}
