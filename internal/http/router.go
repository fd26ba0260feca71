package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/callquality/backend/internal/config"
	"github.com/callquality/backend/internal/http/handlers"
	"github.com/callquality/backend/internal/http/middleware"
	"github.com/callquality/backend/internal/service"
	"github.com/callquality/backend/internal/storage"

	_ "github.com/callquality/backend/docs"
)

// Deps are the services the web layer fronts.
type Deps struct {
	Store    handlers.Repository
	Storage  storage.Store
	Sync     handlers.Syncer
	Pipeline handlers.Reanalyzer
	Jobs     handlers.Jobs
	Queue    service.Enqueuer
	Clients  handlers.ClientEvicter
	Location *time.Location
}

func Router(cfg config.Config, deps Deps, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:            deps.Store,
		Storage:          deps.Storage,
		Sync:             deps.Sync,
		Pipeline:         deps.Pipeline,
		Jobs:             deps.Jobs,
		Queue:            deps.Queue,
		Clients:          deps.Clients,
		Validator:        validator.New(),
		Logger:           logger,
		AdminKey:         cfg.AdminKey,
		RecordingTTLDays: cfg.RecordingTTLDays,
		SignedURLMinutes: cfg.SignedURLMinutes,
		LenientInts:      cfg.LenientCSVInts,
		Location:         deps.Location,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	tenant := api.Group("/tenants/:tenant_id")
	{
		tenant.GET("/calls", h.CallsList)
		tenant.GET("/calls/:id", h.CallDetails)
		tenant.GET("/calls/:id/analysis", h.CallAnalysis)
		tenant.GET("/sync-runs/latest", h.SyncRunsLatest)
		tenant.GET("/flows", h.FlowsList)
		tenant.GET("/flows/:flow_id", h.FlowDetails)
		tenant.GET("/prompts", h.PromptsList)
	}

	admin := tenant.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/calls/upload", h.UploadAudio)
		admin.POST("/calls/import", h.ImportCalls)
		admin.POST("/calls/:id/reanalyze", h.Reanalyze)
		admin.POST("/sync", h.TriggerSync)
		admin.POST("/flows", h.CreateFlow)
		admin.PUT("/flows/:flow_id", h.UpdateFlow)
		admin.DELETE("/flows/:flow_id", h.DeleteFlow)
		admin.PUT("/prompts/:prompt_type", h.UpsertPrompt)
		admin.GET("/settings/biztel", h.BiztelSettings)
		admin.PUT("/settings/biztel", h.UpdateBiztelSettings)
		admin.POST("/settings/biztel/test", h.TestBiztelConnection)
	}

	jobs := api.Group("/jobs")
	jobs.Use(middleware.AdminKey(cfg.AdminKey))
	{
		jobs.POST("/process-pending", h.ProcessPending)
		jobs.POST("/retry-failed", h.RetryFailed)
		jobs.POST("/cleanup", h.CleanupRecordings)
		jobs.POST("/daily-sync", h.DailySync)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
