package main

import (
	"DriveVault/config"
	"DriveVault/internal/mq"
	"DriveVault/internal/repo"
	"DriveVault/internal/storage"
	"DriveVault/internal/worker"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	config.InitConfig()
	repo.InitMysql()
	blobs := storage.InitMinio()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := mq.Dial()
	if err != nil {
		log.Fatalf("dial rabbitmq failed: %v", err)
	}

	cleaner := worker.NewCleaner(
		blobs,
		blobs.Bucket(),
		repo.NewFileRecordStore(repo.Db),
		client,
		worker.NewLimiter(config.AppConfig.CleanupRate, config.AppConfig.CleanupBurst),
		config.AppConfig.CleanupRetryMax,
		config.AppConfig.CleanupRetryDelays,
	)

	log.Println("cleanup worker started")
	if err := worker.RunCleanupWorker(ctx, client, cleaner, config.AppConfig.RabbitMQPrefetch, config.AppConfig.CleanupWorkerConcurrency); err != nil {
		log.Fatalf("cleanup worker stopped: %v", err)
	}
	if err := client.Close(); err != nil {
		log.Printf("close rabbitmq failed: %v", err)
	}
	if err := repo.CloseMysql(); err != nil {
		log.Printf("close mysql failed: %v", err)
	}
}
