package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/photo-retrieval/internal/catalog"
	"github.com/danielpatrickdp/photo-retrieval/internal/config"
	"github.com/danielpatrickdp/photo-retrieval/internal/database"
	"github.com/danielpatrickdp/photo-retrieval/internal/ledger"
	"github.com/danielpatrickdp/photo-retrieval/internal/logging"
	"github.com/danielpatrickdp/photo-retrieval/internal/matrix"
	"github.com/danielpatrickdp/photo-retrieval/internal/session"
	"github.com/danielpatrickdp/photo-retrieval/internal/strategy"
	"github.com/danielpatrickdp/photo-retrieval/internal/transport"
)

// #region main
func main() {
	rootCmd := &cobra.Command{
		Use:          "retrievald",
		Short:        "Serve interactive photo retrieval sessions over gRPC",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	rootCmd.Flags().String("config", os.Getenv("RETRIEVAL_CONFIG"), "path to YAML config")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
// #endregion main

// #region run
func run(ctx context.Context, cfg config.Config) error {
	log := logging.New(cfg.LoggingConfig())

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	cat, err := catalog.NewSQL(db)
	if err != nil {
		return err
	}
	led, err := ledger.NewSQL(db)
	if err != nil {
		return err
	}
	repo, err := session.NewSQLRepository(db)
	if err != nil {
		return err
	}
	transitions, err := logging.NewTransitionLog(db)
	if err != nil {
		return err
	}
	files, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	registry, err := strategy.NewRegistry(cfg.StrategyConfig())
	if err != nil {
		return err
	}

	engine := session.NewEngine(cfg.SessionConfig(), session.Deps{
		Catalog:  cat,
		Matrices: matrix.NewStore(cat, files, log),
		Registry: registry,
		Repo:     repo,
		Ledger:   led,
		Recorder: transitions,
		Log:      log,
	})

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	srv := grpc.NewServer(grpc.UnaryInterceptor(transport.UnaryLogger(log)))
	transport.Register(srv, transport.NewServer(engine))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log.Info().
		Str("grpc", cfg.Server.GRPCAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Str("db", cfg.Database.Path).
		Str("artifacts", cfg.Artifacts.Backend).
		Msg("retrievald ready")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.GracefulStop()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
// #endregion run
