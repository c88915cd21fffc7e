package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/moodjournal/internal/config"
	"github.com/moodjournal/internal/logger"
	"github.com/moodjournal/internal/router"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "moodjournal",
	Short:         "AI emotion diary server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

var (
	adminUsername string
	adminPassword string
)

var initAdminCmd = &cobra.Command{
	Use:   "init-admin",
	Short: "Create the administrator account if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		defer log.Sync()

		if strings.TrimSpace(adminUsername) != "" {
			cfg.SuperRootUserName = strings.TrimSpace(adminUsername)
		}
		if adminPassword != "" {
			cfg.SuperRootPassword = adminPassword
		}
		if cfg.SuperRootUserName == "" || cfg.SuperRootPassword == "" {
			return errors.New("username and password are required (flags or SUPER_ROOT_USER_NAME / SUPER_ROOT_PASSWORD)")
		}

		app, err := buildApplication(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer app.close()

		if err := app.ensureSuperRoot(cmd.Context()); err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "administrator %q is ready\n", cfg.SuperRootUserName)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	initAdminCmd.Flags().StringVar(&adminUsername, "username", "", "administrator username")
	initAdminCmd.Flags().StringVar(&adminPassword, "password", "", "administrator password")
	rootCmd.AddCommand(serveCmd, initAdminCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadRuntime() (config.AppConfig, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.UsesDefaultSecret() {
		log.Warn("using built-in development signing key, set SESSION_SECRET (and JWT_SECRET) before deploying")
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.ensureSuperRoot(ctx); err != nil {
		log.Error("ensure super root failed", "error", err)
	}

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(app.api, router.Options{
		SessionSecret: cfg.SessionSecret,
		SessionMaxAge: cfg.JWTTTL,
		CORSOrigins:   cfg.CORSOrigins,
		Log:           log,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.ListenAddr, "store", cfg.StoreDriver, "timezone", cfg.Location().String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("run server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
