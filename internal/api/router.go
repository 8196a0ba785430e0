package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/caiosb/votedata/internal/api/handler"
	"github.com/caiosb/votedata/internal/api/middleware"
	"github.com/caiosb/votedata/internal/importer"
	"github.com/caiosb/votedata/internal/logger"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	svc *importer.Service,
	custodian *importer.Custodian,
	db *gorm.DB,
	log *logger.Logger,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	// Create handlers
	healthHandler := handler.NewHealthHandler(db)
	importHandler := handler.NewImportHandler(svc)
	filesHandler := handler.NewFilesHandler(custodian)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Import jobs
		v1.POST("/imports", importHandler.SubmitUpload)
		v1.POST("/imports/url", importHandler.SubmitURL)
		v1.GET("/imports", importHandler.ListJobs)
		v1.GET("/imports/:id", importHandler.GetJob)
		v1.GET("/imports/:id/batches", importHandler.ListBatches)
		v1.GET("/imports/:id/errors", importHandler.ListErrors)
		v1.POST("/imports/:id/cancel", importHandler.Cancel)
		v1.POST("/imports/:id/restart", importHandler.Restart)
		v1.POST("/imports/:id/select", importHandler.SelectFile)
		v1.POST("/imports/:id/batches/:batchId/reprocess", importHandler.ReprocessBatch)
		v1.POST("/imports/:id/reprocess-failed", importHandler.ReprocessFailed)
		v1.POST("/imports/:id/verify", importHandler.Verify)
		v1.DELETE("/imports/:id", importHandler.Delete)

		// Scheduler queue
		v1.GET("/queue", importHandler.Queue)

		// Temp file custody
		v1.GET("/files", filesHandler.List)
		v1.DELETE("/files/:group", filesHandler.Delete)
	}

	return r
}
