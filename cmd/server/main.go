package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/kibaro-app/realtime/internal/api"
	"github.com/kibaro-app/realtime/internal/auth"
	"github.com/kibaro-app/realtime/internal/config"
	"github.com/kibaro-app/realtime/internal/database"
	"github.com/kibaro-app/realtime/internal/push"
	"github.com/kibaro-app/realtime/internal/realtime"
	"github.com/kibaro-app/realtime/internal/stats"
)

const defaultSigningKey = "rXhgH3X1kfyhnVGeTWV1PIeYZS1hFhLfMSJUvMWerX4="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[kibaro-rt] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	db, err := database.NewPgNotificationRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	realtime.RegisterMetrics(statsUpdater)

	reg := realtime.NewRegistry(logger, statsUpdater)
	router := realtime.NewRouter(reg, logger, statsUpdater)
	tokens := auth.NewJWTVerifier(cfg.SigningKey)
	sink := push.NewLogSink(logger)

	dispatcher := realtime.NewDispatcher(logger, db, reg, router, sink, statsUpdater, cfg.StatsInterval)

	srv := api.NewRealtimeApp(mux, logger, reg, dispatcher, db, tokens, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	dispatcher.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down dispatcher...")
	dispatcher.Shutdown()

	logger.Println("shutdown complete")
}
