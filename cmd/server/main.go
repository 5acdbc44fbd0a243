package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"multiapi-go/internal/config"
	"multiapi-go/internal/events"
	"multiapi-go/internal/logging"
	"multiapi-go/internal/manager"
	tracing "multiapi-go/internal/monitoring/tracing"
	srv "multiapi-go/internal/server"
	"multiapi-go/internal/storage"
	"multiapi-go/internal/transport/httpchat"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "api_config.json", "path to the configuration document")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Load config %s: %v", *configPath, err)
	}
	if *debug {
		cfg.Server.Debug = true
	}
	if err := logging.Setup(cfg.Server.Debug, cfg.Server.LogFile); err != nil {
		log.Fatalf("Setup logging: %v", err)
	}

	shutdownTracing, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("Tracing init failed; continuing without traces")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	log.WithFields(log.Fields{
		"config":  *configPath,
		"backend": cfg.Storage.Backend,
	}).Info("Starting multiapi server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openStore(ctx, cfg, *configPath)
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	hub := events.NewHub()
	transports := httpchat.NewRegistry(httpchat.NewHTTPClient())

	mgr, err := manager.New(manager.Options{
		Config:     cfg,
		Store:      store,
		Transports: transports,
		Hub:        hub,
	})
	if err != nil {
		log.Fatalf("Build manager: %v", err)
	}

	watcher, err := config.Watch(*configPath, func(next *config.Config) {
		reloadCtx, cancelReload := context.WithTimeout(ctx, 30*time.Second)
		defer cancelReload()
		if err := mgr.ReloadCredentials(reloadCtx, next); err != nil {
			log.WithError(err).Error("Config reload failed")
		}
	})
	if err != nil {
		log.WithError(err).Warn("Config watcher unavailable; live reload disabled")
	} else {
		defer watcher.Close()
	}

	engine := srv.BuildEngine(cfg, srv.Dependencies{Manager: mgr, Hub: hub, Store: store})
	httpSrv := &http.Server{Addr: cfg.Server.Listen, Handler: engine}

	go func() {
		log.Infof("API listening on %s", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http shutdown: %v", err)
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		log.Errorf("manager shutdown: %v", err)
	}
	log.Info("Server stopped")
}

// openStore builds and initializes the configured backend. A failing
// backend degrades to the file backend rather than refusing to start;
// if even that fails the manager runs on config-only state.
func openStore(ctx context.Context, cfg *config.Config, configPath string) storage.Store {
	store, err := buildStore(cfg, configPath)
	if err == nil {
		if err = store.Initialize(ctx); err != nil {
			_ = store.Close()
		}
	}
	if err == nil {
		return store
	}

	log.WithError(err).WithField("backend", cfg.Storage.Backend).
		Warn("Storage backend failed; falling back to file backend")
	if cfg.Storage.Backend == "file" {
		log.Error("File backend failed; running without persistent storage")
		return nil
	}

	fallback := storage.NewFileStore(configPath)
	if err := fallback.Initialize(ctx); err != nil {
		log.WithError(err).Error("File backend fallback failed; running without persistent storage")
		return nil
	}
	log.Info("Using file storage backend as fallback")
	return fallback
}

func buildStore(cfg *config.Config, configPath string) (storage.Store, error) {
	st := cfg.Storage
	switch st.Backend {
	case "redis":
		return storage.NewRedisStore(st.RedisAddr, st.RedisPassword, st.RedisDB, st.RedisPrefix), nil
	case "mongodb":
		return storage.NewMongoStore(st.MongoURI, st.MongoDatabase)
	case "postgres":
		return storage.NewPostgresStore(st.PostgresDSN)
	case "git":
		return storage.NewGitStore(storage.GitOptions{
			Dir:         st.GitDir,
			RemoteURL:   st.GitRemoteURL,
			Branch:      st.GitBranch,
			Username:    os.Getenv("MULTIAPI_GIT_USERNAME"),
			Password:    os.Getenv("MULTIAPI_GIT_PASSWORD"),
			AuthorName:  st.GitAuthorName,
			AuthorEmail: st.GitAuthorEmail,
		}), nil
	default:
		return storage.NewFileStore(configPath), nil
	}
}
