// Package cli provides the command-line interface and HTTP server for
// the program-management service. The root command wires configuration
// from flags, environment variables (DPM_ prefix), and an optional
// config file, with flag > env > file > default precedence; the serve
// command assembles the storage composite, the sync engine, and the
// HTTP layer and runs until signalled.
package cli

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ironclad.dev/dpm/api"
	"ironclad.dev/dpm/common"
	"ironclad.dev/dpm/db/repository"
	"ironclad.dev/dpm/jira"
	"ironclad.dev/dpm/jirasync"
	"ironclad.dev/dpm/model"
	"ironclad.dev/dpm/reportstore"
	"ironclad.dev/dpm/service"
	"ironclad.dev/dpm/version"
)

// cfgFile is the config file path from --config; when empty the default
// search order applies ($HOME/.dpm.yaml, ./.dpm.yaml, then env only).
var cfgFile string

// RootCmd is the base command.
var RootCmd = &cobra.Command{
	Use:   "dpm",
	Short: "Defense-program management service",
	Long: `dpm plans, tracks, and reports on large contract programs:
CPM scheduling, resource leveling, earned-value reporting (CPR Formats
1/3/5), Monte Carlo schedule risk, and bidirectional Jira sync.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Run:   runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

// Execute runs the CLI; called from main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.dpm.yaml)")
	RootCmd.PersistentFlags().Int("port", 8080, "HTTP listen port")
	RootCmd.PersistentFlags().String("postgres-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	RootCmd.PersistentFlags().String("redis-url", "", "Redis URL for the schedule cache (empty = in-process)")
	RootCmd.PersistentFlags().String("neo4j-uri", "", "Neo4j URI for the dependency graph (empty = in-memory cycle check)")
	RootCmd.PersistentFlags().String("neo4j-user", "", "Neo4j user")
	RootCmd.PersistentFlags().String("neo4j-password", "", "Neo4j password")
	RootCmd.PersistentFlags().String("audit-log-path", "", "bbolt file for the sync audit log (empty = in-memory)")
	RootCmd.PersistentFlags().Float64("rate-limit", 0, "requests per second per client IP (0 = unlimited)")
	RootCmd.PersistentFlags().String("report-bucket", "", "S3 bucket for CPR report archival (empty = disabled)")
	RootCmd.PersistentFlags().String("report-endpoint", "", "S3-compatible endpoint for report archival")
	RootCmd.PersistentFlags().String("report-region", "us-east-1", "S3 region for report archival")

	for _, key := range []string{
		"port", "postgres-url", "redis-url", "neo4j-uri", "neo4j-user", "neo4j-password",
		"audit-log-path", "rate-limit", "report-bucket", "report-endpoint", "report-region",
	} {
		if err := viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key)); err != nil {
			log.Fatalf("Failed to bind flag %s: %v", key, err)
		}
	}

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(versionCmd)
}

// initConfig loads the config file and environment. Env vars use the
// DPM_ prefix with dashes mapped to underscores, e.g. DPM_POSTGRES_URL.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dpm")
	}

	viper.SetEnvPrefix("DPM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		common.Logger.Infof("Using config file: %s", viper.ConfigFileUsed())
	}
}

func runServer(cmd *cobra.Command, args []string) {
	composite, err := repository.NewComposite(repository.Config{
		PostgresURL:   viper.GetString("postgres-url"),
		RedisURL:      viper.GetString("redis-url"),
		Neo4jURI:      viper.GetString("neo4j-uri"),
		Neo4jUser:     viper.GetString("neo4j-user"),
		Neo4jPassword: viper.GetString("neo4j-password"),
		AuditLogPath:  viper.GetString("audit-log-path"),
	})
	if err != nil {
		common.Logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer composite.Close()

	svc := service.New(service.Config{
		Store: composite.Store,
		Graph: composite.Graph,
		Cache: composite.Cache,
	})

	var archive *reportstore.Archive
	if bucket := viper.GetString("report-bucket"); bucket != "" {
		archive, err = reportstore.NewFromConfig(cmd.Context(),
			viper.GetString("report-endpoint"), viper.GetString("report-region"), "", "", bucket)
		if err != nil {
			common.Logger.Fatalf("Failed to initialize report archive: %v", err)
		}
	}
	reports := service.NewReports(svc, archive)

	sync := jirasync.New(jirasync.Config{
		APIFactory: func(integ *model.JiraIntegration) jirasync.JiraAPI {
			return jira.NewClient(integ.BaseURL, integ.Email, integ.APIToken)
		},
		Mappings:     composite.Store,
		Entities:     composite.Store,
		Integrations: composite.Store,
		AuditLog:     composite.AuditLog,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = viper.GetInt("port")
	serverConfig.RateLimit = viper.GetFloat64("rate-limit")

	e := api.NewEchoServer(serverConfig)
	api.NewHandlers(svc, reports, sync, composite.Store, composite.AuditLog).Register(e)

	go func() {
		common.Logger.Infof("Server starting on port %d", serverConfig.Port)
		if err := api.StartServer(e, serverConfig); err != nil && err != http.ErrServerClosed {
			common.Logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	common.Logger.Info("Shutting down server...")
	if err := api.GracefulShutdown(e, serverConfig.ShutdownTimeout); err != nil {
		common.Logger.Errorf("Shutdown error: %v", err)
	}
}
