package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/stemline/stemline/internal/archive"
	"github.com/stemline/stemline/internal/auth"
	"github.com/stemline/stemline/internal/config"
	"github.com/stemline/stemline/internal/httpserver"
	"github.com/stemline/stemline/internal/notify"
	"github.com/stemline/stemline/internal/review"
	"github.com/stemline/stemline/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.NewPGStore(db)
	if err := st.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	var emitter review.Emitter
	if len(cfg.KafkaBrokers) > 0 {
		kafkaEmitter, err := notify.NewKafkaEmitter(notify.KafkaEmitterConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka emitter: %v", err)
		}
		defer kafkaEmitter.Close()
		emitter = kafkaEmitter
	}

	var archiver review.Archiver
	if cfg.ArchiveBucket != "" {
		s3Archiver, err := archive.NewS3Archiver(context.Background(), cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("s3 archiver: %v", err)
		}
		archiver = s3Archiver
	}

	verifier, err := auth.NewVerifier(cfg.AuthKeysFile, cfg.DevAllowLocal)
	if err != nil {
		log.Fatalf("auth verifier: %v", err)
	}

	service := review.New(st, emitter, archiver)
	server := httpserver.New(service, st, verifier)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Review engine listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
