package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/colloquyhq/colloquy/internal/compiler"
	"github.com/colloquyhq/colloquy/internal/logging"
	"github.com/colloquyhq/colloquy/internal/metrics"
	httpAdapter "github.com/colloquyhq/colloquy/pkg/adapters/http"
	"github.com/colloquyhq/colloquy/pkg/adapters/memory"
	redisAdapter "github.com/colloquyhq/colloquy/pkg/adapters/redis"
	"github.com/colloquyhq/colloquy/pkg/orchestrator"
	"github.com/colloquyhq/colloquy/pkg/ports"
	"github.com/colloquyhq/colloquy/pkg/registry"
	"github.com/colloquyhq/colloquy/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP conversation server",
	Long:  `Starts the engine in server mode: every session gets its own conversation over the catalog, driven through a JSON API. Prometheus metrics are served on /metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		catalog, _ := cmd.Flags().GetString("catalog")
		port, _ := cmd.Flags().GetString("port")
		redisAddr, _ := cmd.Flags().GetString("redis")

		logger := logging.New(slog.LevelInfo)

		comp := compiler.New(logger)
		catalogData, err := os.ReadFile(catalog)
		if err != nil {
			fmt.Printf("Error reading catalog: %v\n", err)
			os.Exit(1)
		}
		topics, err := comp.Compile(catalogData)
		if err != nil {
			fmt.Printf("Error compiling catalog: %v\n", err)
			os.Exit(1)
		}
		greeting := topics[0].Name()

		reg := prometheus.NewRegistry()
		collector := metrics.New(reg)

		builder := func(sessionID string) (*registry.Registry, *orchestrator.Orchestrator, error) {
			sessTopics, err := comp.Compile(catalogData)
			if err != nil {
				return nil, nil, err
			}
			topicReg := registry.NewRegistry()
			for _, t := range sessTopics {
				if err := topicReg.Register(t); err != nil {
					return nil, nil, err
				}
			}
			orch := orchestrator.New(topicReg,
				orchestrator.WithLogger(logger.With("session_id", sessionID)),
				orchestrator.WithGreetingTopic(greeting),
			)
			collector.Attach(orch.Bus())
			return topicReg, orch, nil
		}

		var store ports.SnapshotStore = memory.NewStore()
		if redisAddr != "" {
			store = redisAdapter.New(redisAddr, "", 0)
			logger.Info("using redis snapshot store", "address", redisAddr)
		}

		sessions := session.NewManager(builder,
			session.WithLogger(logger),
			session.WithStore(store),
		)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.Handle("/", httpAdapter.NewHandler(sessions, logger))

		srv := &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", "address", srv.Addr, "catalog", catalog)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			logger.Info("starting shutdown", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("graceful shutdown did not complete", "err", err)
				if err := srv.Close(); err != nil {
					logger.Error("failed to close server", "err", err)
				}
			}
			logger.Info("server stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	serveCmd.Flags().String("redis", "", "Redis address for snapshot persistence (host:port)")
}
