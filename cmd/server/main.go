package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hangout-app/hangout-server/internal/api"
	"github.com/hangout-app/hangout-server/internal/config"
	"github.com/hangout-app/hangout-server/internal/database"
	"github.com/hangout-app/hangout-server/internal/engine"
	"github.com/hangout-app/hangout-server/internal/server"
	"github.com/hangout-app/hangout-server/internal/stats"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	addr           string
	dsn            string
	signingKey     string
	maxHeapBytes   uint64
	allowedOrigins stringSliceFlag
)

func main() {
	// a missing .env file is fine, the flags carry defaults
	_ = godotenv.Load()

	defaultHeap, _ := strconv.ParseUint(envOr("HANGOUT_MAX_HEAP_BYTES", "0"), 10, 64)

	flag.StringVar(&addr, "addr", envOr("HANGOUT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("HANGOUT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("HANGOUT_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Uint64Var(&maxHeapBytes, "max-heap", defaultHeap, "heap size in bytes above which new websocket connections are refused")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[hangout] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, maxHeapBytes)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgHangoutRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	authorizer := api.NewUpgradeAuthorizer(logger, dbConn, cfg.SigningKey)

	hangoutServer, err := server.NewHangoutServer(logger, authorizer, statsUpdater, server.GatewayOptions{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxHeapBytes:    cfg.MaxHeapBytes,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ReapInterval:    cfg.ReapInterval,
	})
	if err != nil {
		logger.Fatal("new hangout server:", err)
	}

	eng := engine.New(logger, dbConn, hangoutServer, statsUpdater)

	srv := api.NewHangoutApp(mux, logger, hangoutServer, eng, dbConn, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go hangoutServer.Run()

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

	logger.Println("shutting down hangout server...")
	if err := hangoutServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("hangout server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
