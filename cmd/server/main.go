// Command collabdoc-server starts the collaborative document server.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/collabdoc/internal/chat"
	"github.com/and161185/collabdoc/internal/config"
	"github.com/and161185/collabdoc/internal/limiter"
	"github.com/and161185/collabdoc/internal/migrate"
	"github.com/and161185/collabdoc/internal/server"
	"github.com/and161185/collabdoc/internal/store"
	"github.com/and161185/collabdoc/internal/store/postgres"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, restores the persisted aggregates, and serves
// the command and registration listeners until SIGINT/SIGTERM. Aggregates
// are snapshotted back on shutdown.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("regAddr", cfg.RegAddr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var persister store.Persister
	if cfg.DatabaseDSN != "" {
		if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("postgres.New", zap.Error(err))
		}
		defer db.Close()
		persister = postgres.NewStore(db)
	} else {
		fileStore, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			logger.Fatal("open snapshot store", zap.Error(err))
		}
		persister = fileStore
	}

	userRecords, err := persister.LoadUsers(ctx)
	if err != nil {
		logger.Fatal("load users", zap.Error(err))
	}
	docRecords, err := persister.LoadDocuments(ctx)
	if err != nil {
		logger.Fatal("load documents", zap.Error(err))
	}
	users := store.RestoreUsers(userRecords)
	docs, err := store.RestoreDocuments(cfg.DataDir, docRecords)
	if err != nil {
		logger.Fatal("restore documents", zap.Error(err))
	}
	logger.Info("state restored",
		zap.Int("users", len(userRecords)),
		zap.Int("documents", len(docRecords)),
	)

	srv := server.New(server.Options{
		Users:        users,
		Sessions:     store.NewSessions(),
		Documents:    docs,
		Allocator:    chat.NewAllocator(),
		Limiter:      limiter.NewMemory(15*time.Minute, 5, 15*time.Minute),
		PushInterval: cfg.PushInterval,
		Logger:       logger,
	})

	cmdLn, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	regLn, err := net.Listen("tcp", cfg.RegAddr)
	if err != nil {
		logger.Fatal("listen registration", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("command listener up", zap.String("addr", cfg.Addr))
		errCh <- srv.Serve(cmdLn)
	}()
	go func() {
		logger.Info("registration listener up", zap.String("addr", cfg.RegAddr))
		errCh <- srv.ServeRegistration(regLn)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}
	_ = cmdLn.Close()
	_ = regLn.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out", zap.Error(err))
	}

	saveCtx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSave()
	if err := persister.SaveUsers(saveCtx, users.Snapshot()); err != nil {
		logger.Error("save users", zap.Error(err))
	}
	if err := persister.SaveDocuments(saveCtx, docs.Snapshot()); err != nil {
		logger.Error("save documents", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
