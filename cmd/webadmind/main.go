package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/eddison/webadmin/internal/api"
	"github.com/eddison/webadmin/internal/audit"
	"github.com/eddison/webadmin/internal/config"
	"github.com/eddison/webadmin/internal/livereload"
	"github.com/eddison/webadmin/internal/metrics"
)

var (
	dataDir string
	verbose bool

	logger   *zap.Logger
	logLevel = zap.NewAtomicLevel()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "webadmind",
		Short:        "Serve the STOCKSENSEX web-admin dashboard",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zcfg := zap.NewProductionConfig()
			if verbose {
				logLevel.SetLevel(zapcore.DebugLevel)
			}
			zcfg.Level = logLevel
			var err error
			logger, err = zcfg.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "directory holding config.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newServeCmd(), newRenderCmd(), newCheckCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newRenderCmd() *cobra.Command {
	var output string
	var noIconFont bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the dashboard document to stdout or a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dataDir, logger)
			if err != nil {
				return err
			}
			doc := cfg.Document()
			if noIconFont {
				doc.IconFont = ""
			}

			if output == "" || output == "-" {
				return doc.Render(cmd.OutOrStdout())
			}

			out, err := doc.Bytes()
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, out, 0644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			logger.Info("rendered dashboard", zap.String("path", output), zap.Int("bytes", len(out)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&noIconFont, "no-icon-font", false, "omit the icon font stylesheet")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var requireIconFont bool

	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Verify the structure of a dashboard document",
		Long: `Check parses a dashboard document and verifies the menu toggle, search box,
sidebar and stylesheet references. Without a file it checks the document
the server would render.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(dataDir, logger)
			if err != nil {
				return err
			}
			doc := cfg.Document()

			var r io.Reader
			source := "rendered document"
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
				source = args[0]
			} else {
				out, err := doc.Bytes()
				if err != nil {
					return err
				}
				r = bytes.NewReader(out)
			}

			report, err := audit.Inspect(r)
			if err != nil {
				return err
			}
			if err := report.Verify(audit.Options{
				RequireIconFont: requireIconFont,
				SidebarHeading:  doc.Labels.SidebarHeading,
			}); err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d stylesheets, %d search buttons)\n",
				source, len(report.Stylesheets), len(report.SearchButtons))
			return nil
		},
	}
	cmd.Flags().BoolVar(&requireIconFont, "require-icon-font", false, "fail when no icon font is linked")
	return cmd
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(dataDir, logger)
	if err != nil {
		return err
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil && !verbose {
		logLevel.SetLevel(level)
	}

	m := metrics.New()

	g, ctx := errgroup.WithContext(ctx)

	var hub *livereload.Hub
	if cfg.LiveReload {
		hub = livereload.NewHub(cfg.AllowedOrigins, logger.Named("livereload"), m)
		defer hub.Close()

		w, err := livereload.NewWatcher(cfg.StaticDir, hub, logger.Named("livereload"))
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
		logger.Info("live reload enabled", zap.String("static_dir", cfg.StaticDir))
	}

	srv, err := api.NewServer(ctx, cfg, logger, m, hub)
	if err != nil {
		return err
	}
	srv.SetEmbeddedFS(StaticFS)

	report, err := audit.Inspect(bytes.NewReader(srv.Page()))
	if err != nil {
		return err
	}
	if err := report.Verify(audit.Options{SidebarHeading: cfg.Document().Labels.SidebarHeading}); err != nil {
		logger.Warn("dashboard document failed structural check", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		var err error
		if cfg.TLS() {
			logger.Info("starting HTTPS server", zap.String("addr", cfg.Addr))
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			logger.Info("starting HTTP server", zap.String("addr", cfg.Addr))
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if hub != nil {
			hub.Close()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
