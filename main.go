package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/krishkalaria12/snap-edit/auth"
	"github.com/krishkalaria12/snap-edit/config"
	"github.com/krishkalaria12/snap-edit/credits"
	"github.com/krishkalaria12/snap-edit/database"
	"github.com/krishkalaria12/snap-edit/editor"
	handler "github.com/krishkalaria12/snap-edit/handlers"
	"github.com/krishkalaria12/snap-edit/router"
	"github.com/krishkalaria12/snap-edit/storage"
	"github.com/krishkalaria12/snap-edit/store"
	"github.com/krishkalaria12/snap-edit/transform"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the edit API",
	Long: `Run the edit API.

Without DATABASE_URL edits and credits are kept in memory; grant credits with
--credits, e.g.

  snap-edit serve --credits 6f1c...=10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		grants, _ := cmd.Flags().GetStringToInt("credits")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, grants)
	},
}

func init() {
	serveCmd.Flags().StringToInt("credits", nil, "in-memory credit balances as user=amount")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, grants map[string]int) error {
	records, gate, closeDB, err := openStores(cfg, grants)
	if err != nil {
		return err
	}
	defer closeDB()

	deps := transform.Deps{HTTPClient: &http.Client{Timeout: time.Minute}}
	if cfg.Storage.BucketName != "" {
		gcs, err := storage.NewGCS(ctx, cfg.Storage.ProjectID, cfg.Storage.BucketName, cfg.Storage.UploadPath)
		if err != nil {
			return fmt.Errorf("opening object storage: %w", err)
		}
		defer gcs.Close()
		deps.Objects = gcs
	}

	opts := []editor.Option{editor.WithTimeout(cfg.Edit.Timeout)}
	pipeline, err := transform.New(ctx, cfg, deps)
	if err != nil {
		// Requests answer with a configuration error until the operator fixes it.
		log.WithError(err).WithField("pipeline", cfg.Provider.Pipeline).Error("Edit pipeline is not configured")
		opts = append(opts, editor.WithConfigError(err))
	} else {
		log.WithField("pipeline", pipeline.Name()).Info("Edit pipeline ready")
	}
	orchestrator := editor.New(pipeline, records, opts...)

	var verifier *auth.Verifier
	if cfg.JWTSecret != "" {
		if verifier, err = auth.NewVerifier(cfg.JWTSecret); err != nil {
			return err
		}
	} else {
		log.Warn("JWT_SECRET not set; authenticated routes will answer 401")
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	router.SetupRoutes(app, handler.New(orchestrator, records, gate, verifier != nil), verifier, cfg.CORSOrigins)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Infof("Server is listening at the port %d", cfg.Port)
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStores(cfg *config.Config, grants map[string]int) (store.EditStore, credits.Gate, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; edits and credits are kept in memory")
		return store.NewMemory(), credits.NewMemory(grants), func() {}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.MigrateModels(db); err != nil {
		_ = database.Close(db)
		return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	closeDB := func() {
		if err := database.Close(db); err != nil {
			log.WithError(err).Error("Closing the database connection")
		}
	}
	return store.NewGorm(db), credits.NewGorm(db), closeDB, nil
}
