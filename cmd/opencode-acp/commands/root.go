// Package commands provides the CLI for the OpenCode ACP bridge.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode-acp/internal/acp"
	"github.com/opencode-ai/opencode-acp/internal/bridge"
	"github.com/opencode-ai/opencode-acp/internal/command"
	"github.com/opencode-ai/opencode-acp/internal/config"
	"github.com/opencode-ai/opencode-acp/internal/event"
	"github.com/opencode-ai/opencode-acp/internal/logging"
	"github.com/opencode-ai/opencode-acp/internal/opencode"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	serverURL string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "opencode-acp",
	Short: "OpenCode ACP bridge",
	Long: `opencode-acp bridges an OpenCode server to ACP clients.

It speaks the Agent Client Protocol over stdio, translating the server's
event feed into session updates and permission requests. Point your
editor's ACP integration at this binary.`,
	Version: Version,
	RunE:    runBridge,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Pretty-print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "OpenCode server URL")
	rootCmd.Flags().StringVar(&workDir, "cwd", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("opencode-acp %s (%s)\n", Version, BuildTime))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runBridge(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	dir := workDir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// stdout carries the protocol; logs must stay on stderr.
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
		Pretty: printLogs,
	})
	bridge.Version = Version

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	upstream := opencode.NewHTTPClient(cfg.ServerURL)
	bus := event.NewBus()
	defer bus.Close()

	loader := command.NewLoader(config.CommandDirs(dir))
	var model *opencode.Model
	if serverCfg, err := upstream.GetConfig(ctx); err == nil {
		loader.SetConfig(serverCfg.Command)
		model = resolveDefaultModel(ctx, upstream, serverCfg)
	} else {
		logging.Warn().Err(err).Msg("cannot load server config")
	}

	b := bridge.New(upstream, bus, loader, bridge.Options{
		DefaultMode:     bridge.PermissionMode(cfg.DefaultMode),
		TerminalTimeout: cfg.TerminalTimeout(),
		Model:           model,
	})

	conn := acp.NewConn(os.Stdin, os.Stdout, b)
	b.AttachClient(conn)

	if watcher, err := command.Watch(loader, b.BroadcastCommands); err == nil {
		go watcher.Run(ctx)
	} else {
		logging.Warn().Err(err).Msg("cannot watch command dirs")
	}

	go func() {
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("event loop stopped")
			stop()
		}
	}()

	return conn.Serve(ctx)
}

// resolveDefaultModel checks the server's configured default model against
// its provider list. Nil when nothing is configured or the model is unknown;
// the server then picks on its own.
func resolveDefaultModel(ctx context.Context, upstream opencode.Client, serverCfg *opencode.Config) *opencode.Model {
	if serverCfg == nil || serverCfg.Model == "" {
		return nil
	}
	providers, err := upstream.Providers(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("cannot list providers")
		return nil
	}
	model := opencode.ResolveModel(serverCfg, providers)
	if model == nil {
		logging.Warn().Str("model", serverCfg.Model).Msg("configured model not offered by any provider")
	}
	return model
}
