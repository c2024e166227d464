package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stylemuse/stylemuse/pkg/agents"
	"github.com/stylemuse/stylemuse/pkg/analysis"
	"github.com/stylemuse/stylemuse/pkg/checkpoint"
	"github.com/stylemuse/stylemuse/pkg/config"
	"github.com/stylemuse/stylemuse/pkg/llm"
	"github.com/stylemuse/stylemuse/pkg/server"
	"github.com/stylemuse/stylemuse/pkg/vectorsearch"
)

var (
	configFile string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stylemuse",
		Short: "Conversational fashion recommendation service",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func setupLogging(level string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env file is fine; the environment may be set
			// directly.
			_ = godotenv.Load()

			settings, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				settings.LogLevel = logLevel
			}
			if err := setupLogging(settings.LogLevel); err != nil {
				return err
			}

			return serve(cmd.Context(), settings)
		},
	}
}

func buildRegistry(settings *config.Settings, store checkpoint.Store) (*agents.Registry, error) {
	engine := llm.NewOpenAIEngine(settings.OpenAIAPIKey)
	chatbot, err := agents.NewChatbotAgent(engine, store)
	if err != nil {
		return nil, errors.Wrap(err, "build chatbot agent")
	}

	personas, err := agents.LoadPersonas(settings.PersonasPath)
	if err != nil {
		return nil, errors.Wrap(err, "load personas")
	}
	analyzer := analysis.NewClient(settings.AnalysisEndpoint, settings.AnalysisTimeout)
	searcher := vectorsearch.NewImageSearcher(
		vectorsearch.NewClient(settings.SearchBaseURL, settings.SearchLimit, settings.SearchTimeout))
	stylist, err := agents.NewStylistAgent(analyzer, searcher, personas, store)
	if err != nil {
		return nil, errors.Wrap(err, "build stylist agent")
	}

	registry := agents.NewRegistry(settings.DefaultAgent)
	registry.Register(chatbot)
	registry.Register(stylist)
	return registry, nil
}

func serve(ctx context.Context, settings *config.Settings) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store checkpoint.Store
	if settings.CheckpointDSN != "" {
		sqliteStore, err := checkpoint.NewSQLiteStore(settings.CheckpointDSN)
		if err != nil {
			return errors.Wrap(err, "open checkpoint store")
		}
		store = sqliteStore
	} else {
		log.Warn().Msg("no checkpoint DSN configured, conversations are lost on restart")
		store = checkpoint.NewMemoryStore()
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close checkpoint store")
		}
	}()

	registry, err := buildRegistry(settings, store)
	if err != nil {
		return err
	}

	srv := server.New(settings, registry)
	httpServer := &http.Server{
		Addr:    srv.Addr(),
		Handler: srv.Handler(),
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
