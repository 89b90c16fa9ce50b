package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"hakwon/consult/internal/chat"
	"hakwon/consult/internal/config"
	"hakwon/consult/internal/firebase"
	internalhttp "hakwon/consult/internal/http"
	"hakwon/consult/internal/identity"
	"hakwon/consult/internal/jobs"
	"hakwon/consult/internal/realtime"
	"hakwon/consult/internal/repository"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := repository.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()
	store := repository.NewStore(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
	}

	hub := realtime.NewHub(redisClient)
	go hub.Run(ctx)

	verifier := firebase.NewLookupVerifier(cfg.FirebaseAPIKey, cfg.FirebaseLookupURL, cfg.FirebaseTimeout)
	identitySvc := identity.NewService(verifier, store, cfg)
	chatSvc := chat.NewService(store, hub, cfg.InstructorRoleLabel)

	server := internalhttp.NewServer(cfg, identitySvc, chatSvc, store, hub)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	jobs.StartUnreadResyncJob(ctx, cfg, hub)

	go func() {
		log.Printf("consult http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
