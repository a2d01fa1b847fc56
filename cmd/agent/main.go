package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/montecarlodata/snowflake-agent/pkg/agent"
	"github.com/montecarlodata/snowflake-agent/pkg/api"
	"github.com/montecarlodata/snowflake-agent/pkg/config"
	"github.com/montecarlodata/snowflake-agent/pkg/creds"
	"github.com/montecarlodata/snowflake-agent/pkg/events"
	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/logs"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
	"github.com/montecarlodata/snowflake-agent/pkg/orchestrator"
	"github.com/montecarlodata/snowflake-agent/pkg/results"
	"github.com/montecarlodata/snowflake-agent/pkg/storage"
	"github.com/montecarlodata/snowflake-agent/pkg/warehouse"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "agent",
	Short:   "Warehouse-native remote agent",
	Long:    `The agent runs inside the customer's warehouse container, keeps a persistent event stream to the orchestrator and executes the operations it receives: warehouse queries, storage I/O, health probes and metric pushes.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetString("port")
		debug, _ := cmd.Flags().GetBool("debug")
		return serve(host, port, debug)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Agent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().String("host", envOr("SERVER_HOST", "0.0.0.0"), "Address to listen on")
	serveCmd.Flags().String("port", envOr("SERVER_PORT", "8081"), "Port to listen on")
	serveCmd.Flags().Bool("debug", os.Getenv("DEBUG") != "", "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func serve(host, port string, debug bool) error {
	// SNOWFLAKE_HOST is only set by the platform, its presence means the
	// agent runs inside the container
	local := os.Getenv("SNOWFLAKE_HOST") == ""

	log.Init(log.Config{Debug: debug, JSONOutput: !local})
	agent.Version = Version
	logger := log.WithComponent("main")
	logger.Info().Str("version", Version).Bool("local", local).Msg("Starting agent")

	backendURL := os.Getenv("BACKEND_SERVICE_URL")
	if backendURL == "" {
		return fmt.Errorf("BACKEND_SERVICE_URL is required")
	}
	agentID := os.Getenv("AGENT_ID")

	credentials := creds.NewProvider(local)

	// bootstrap configuration from the environment, switch to the config
	// table once the warehouse connection exists
	cfg := config.NewStore(config.NewEnvPersistence())
	executor, err := warehouse.NewExecutor(cfg, credentials, local)
	if err != nil {
		return fmt.Errorf("failed to create warehouse executor: %w", err)
	}
	defer executor.Close()
	if !local && os.Getenv("USE_DB_CONFIG_PERSISTENCE") != "false" {
		tablePersistence, err := config.NewTablePersistence(executor.DB())
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load DB configuration, using env settings")
		} else {
			cfg = config.NewStore(tablePersistence)
		}
	}

	orchestratorClient := orchestrator.NewClient(backendURL, agentID, credentials)
	stageClient := storage.NewStageClient(cfg, executor, local)
	storageService := storage.NewService(stageClient)
	logsService := logs.NewService(executor, local)
	scraper := metrics.NewScraper()
	resultsProcessor := results.NewProcessor(cfg, stageClient)

	receiver := events.NewSSEReceiver(backendURL, credentials)
	eventsClient := events.NewClient(receiver, events.DefaultInactivityTimeout)
	ackInterval := time.Duration(cfg.Int(config.KeyAckIntervalSeconds, 45)) * time.Second
	ackSender := events.NewAckSender(ackInterval)

	a := agent.New(agent.Deps{
		Config:       cfg,
		Events:       eventsClient,
		AckSender:    ackSender,
		Executor:     executor,
		Orchestrator: orchestratorClient,
		Storage:      storageService,
		Logs:         logsService,
		Metrics:      scraper,
		Results:      resultsProcessor,
	})
	a.Start()
	defer a.Stop()

	server := api.NewServer(host+":"+port, a)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop HTTP server cleanly")
	}
	return nil
}

func envOr(name, def string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return def
}
