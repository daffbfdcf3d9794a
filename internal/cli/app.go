package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"fieldsales-server/internal/cache"
	"fieldsales-server/internal/config"
	"fieldsales-server/internal/events"
	"fieldsales-server/internal/jobs"
	"fieldsales-server/internal/logger"
	"fieldsales-server/internal/models"
	"fieldsales-server/internal/services"
	"fieldsales-server/internal/storage"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	db     *gorm.DB
	cache  cache.Cache
	store  storage.ObjectStore
	events *events.Publisher

	visits    *services.VisitService
	companies *services.CompanyService
	calls     *services.CallService
	reports   *services.ReportService

	closers []func()
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: "fieldsales-server",
	})
	return cfg, log, nil
}

func openDatabase(cfg *config.Config, log zerolog.Logger, migrate bool) (*gorm.DB, error) {
	dbCfg := models.DatabaseConfig{
		Driver:        cfg.Database.Driver,
		DSN:           cfg.Database.DSN,
		EnablePostGIS: cfg.Database.EnablePostGIS,
		Attempts:      cfg.Database.ConnectAttempts,
		LogSQL:        cfg.LogLevel == "debug",
	}
	if migrate {
		return models.InitDB(dbCfg, log)
	}
	return models.Connect(dbCfg, log)
}

// newApp connects every backend and builds the services.
func newApp() (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	a.db, err = openDatabase(cfg, log, true)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.closers = append(a.closers, func() {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	a.cache, err = cache.New(cache.Config{
		Driver:     cfg.Cache.Driver,
		RedisAddr:  cfg.Cache.RedisAddr,
		RedisPass:  cfg.Cache.RedisPass,
		RedisDB:    cfg.Cache.RedisDB,
		DefaultTTL: ttl,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.store, err = storage.New(storage.Config{
		Driver:          cfg.Storage.Driver,
		LocalDir:        cfg.Storage.LocalDir,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		OSSEndpoint:     cfg.Storage.OSSEndpoint,
		OSSAccessKey:    cfg.Storage.OSSAccessKey,
		OSSSecretKey:    cfg.Storage.OSSSecretKey,
		OSSBucket:       cfg.Storage.OSSBucket,
		OSSSignedURLTTL: time.Duration(cfg.Storage.OSSSignedURLTTL) * time.Second,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("configuring storage: %w", err)
	}

	pub, closePub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
	if err != nil {
		// Events are best-effort; run without them.
		log.Warn().Err(err).Msg("events disabled")
		pub, closePub = nil, func() {}
	}
	a.events = pub
	a.closers = append(a.closers, closePub)

	a.visits = services.NewVisitService(a.db, a.store, a.cache, a.events, log, services.VisitOptions{
		GeofenceRadiusMeters: cfg.Visits.GeofenceRadiusMeters,
		CacheTTL:             ttl,
		PhotoMaxWidth:        cfg.Storage.PhotoMaxWidth,
		PhotoMaxHeight:       cfg.Storage.PhotoMaxHeight,
	})
	a.companies = services.NewCompanyService(a.db, a.cache, ttl, log, cfg.Database.EnablePostGIS)
	a.calls = services.NewCallService(a.db, log)
	a.reports = services.NewReportService(a.db, a.cache, ttl, log)

	return a, nil
}

// scheduler registers the background jobs.
func (a *app) scheduler() *jobs.Scheduler {
	s := jobs.NewScheduler(a.log, 30*time.Minute)
	s.Register(jobs.DailyReportName, a.cfg.Jobs.DailyReportSchedule,
		jobs.NewDailyReport(a.db, a.reports, a.store, a.events).Run)
	s.Register(jobs.TokenCleanupName, a.cfg.Jobs.TokenCleanupSchedule,
		jobs.NewTokenCleanup(a.db).Run)
	return s
}

// close releases resources in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
