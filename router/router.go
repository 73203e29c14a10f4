package router

import (
	"DriveVault/internal/handler"
	"DriveVault/internal/metrics"
	"DriveVault/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InitRouter builds API routes.
func InitRouter(files *handler.FileHandler, allowedOrigins []string) *gin.Engine {
	r := gin.Default()
	r.Use(metrics.Middleware())
	r.Use(utils.CORSMiddleware(allowedOrigins))

	r.GET("/health", handler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(utils.AuthMiddleware())
	{
		api.GET("/user", handler.CurrentUser)

		file := api.Group("/files")
		{
			file.POST("", files.UploadFile)
			file.POST("/upload", files.UploadFile)
			file.GET("", files.ListFiles)
			file.GET("/search", files.SearchFiles)
			file.PUT("/rename/:id", files.RenameFile)
			file.DELETE("/:id", files.DeleteFile)
			file.GET("/share/:id", files.ShareFile)
			file.GET("/download/:id", files.DownloadFile)
		}
	}
	return r
}
