package main

import (
	"DriveVault/config"
	"DriveVault/internal/handler"
	"DriveVault/internal/mq"
	"DriveVault/internal/repo"
	"DriveVault/internal/service"
	"DriveVault/internal/storage"
	"DriveVault/internal/task"
	"DriveVault/router"
	"DriveVault/utils"
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

// main initializes services and starts the HTTP server.
func main() {
	config.InitConfig()
	repo.InitMysql()
	repo.InitRedis()
	blobs := storage.InitMinio()

	broker := service.NewBroker(
		repo.NewFileRecordStore(repo.Db),
		blobs,
		service.WithListCache(utils.NewListCache(utils.NewRedisCache(repo.Redis), config.AppConfig.ListCacheTTL)),
		service.WithOrphanReporter(task.NewOrphanPublisher(blobs.Bucket())),
		service.WithLinkTTL(config.AppConfig.AccessLinkTTL),
	)
	files := handler.NewFileHandler(broker, config.AppConfig.MaxUploadBytes)

	srv := &http.Server{
		Addr:    config.AppConfig.HTTPAddr,
		Handler: router.InitRouter(files, config.AppConfig.CORSAllowedOrigins),
	}
	go func() {
		log.Printf("http server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		config.AppConfig.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"drive-vault": func(ctx context.Context) error {
				// drain requests before closing what they use
				err := srv.Shutdown(ctx)
				if closeErr := mq.ClosePublisher(); closeErr != nil {
					log.Printf("close rabbitmq publisher failed: %v", closeErr)
				}
				if closeErr := repo.Redis.Close(); closeErr != nil {
					log.Printf("close redis failed: %v", closeErr)
				}
				if closeErr := repo.CloseMysql(); closeErr != nil {
					log.Printf("close mysql failed: %v", closeErr)
				}
				return err
			},
		},
	)
	exitCode := <-wait
	log.Printf("drive vault exited with code %d", exitCode)
	os.Exit(exitCode)
}
