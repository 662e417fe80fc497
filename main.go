package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/csrf"

	"crudzocial/activity"
	"crudzocial/auth"
	"crudzocial/config"
	"crudzocial/crypto"
	"crudzocial/gallery"
	"crudzocial/handlers"
	"crudzocial/i18n"
	"crudzocial/kv"
	"crudzocial/logging"
	"crudzocial/notes"
	"crudzocial/session"
	"crudzocial/users"
)

const defaultConfigPath = "config.json"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the JSON configuration file")
	importPath := flag.String("import", "", "import users from a browser localStorage export and exit")
	flag.Parse()

	if err := run(*configPath, *importPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, importPath string) error {
	// A missing default file means "defaults plus environment".
	if configPath == defaultConfigPath {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			configPath = ""
		}
	}
	if err := config.LoadConfig(configPath); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := config.AppConfig

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := i18n.LoadTranslations(i18n.Locales); err != nil {
		return fmt.Errorf("load translations: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	hasher := crypto.DefaultHasher
	if p := cfg.Password; p.Time > 0 && p.MemoryKiB > 0 && p.Threads > 0 {
		hasher = crypto.Hasher{Time: p.Time, MemoryKiB: p.MemoryKiB, Threads: p.Threads}
	}
	userStore := users.NewStore(store, hasher)

	if importPath != "" {
		blob, err := os.ReadFile(importPath)
		if err != nil {
			return fmt.Errorf("read import file: %w", err)
		}
		n, err := userStore.ImportLegacy(ctx, blob)
		if err != nil {
			return fmt.Errorf("import users: %w", err)
		}
		logger.Info("import finished", "imported", n, "file", importPath)
		return nil
	}

	count, err := userStore.Count(ctx)
	if err != nil {
		logger.Warn("stored users could not be read", "error", err)
	} else {
		logger.Info("storage ready", "driver", cfg.Storage.Driver, "users", count)
	}

	sessions := session.NewManager(store, userStore, logger)
	recorder := activity.NewRecorder(sessions, userStore)
	images := gallery.NewService(sessions, userStore, recorder, cfg.MaxUploadBytes)
	images.SetMaxPixels(cfg.MaxImagePixels)

	server := handlers.NewServer(handlers.Deps{
		Config:   cfg,
		Users:    userStore,
		Sessions: sessions,
		Auth:     auth.NewService(userStore, sessions, recorder, logger),
		Recorder: recorder,
		Notes:    notes.NewService(sessions, userStore, recorder),
		Gallery:  images,
		Flash:    auth.NewFlashStore(cfg.SessionKey, cfg.SecureCookies),
		Logger:   logger,
	})

	csrfMiddleware := csrf.Protect(
		crypto.DeriveKey(cfg.SessionKey+"csrf"),
		csrf.Secure(cfg.SecureCookies),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
	)

	addr := fmt.Sprintf("%s:%d", cfg.ListenIP, cfg.ListenPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.CSRFContext(cfg.SecureCookies)(csrfMiddleware(server.Routes())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "app", cfg.AppName)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
