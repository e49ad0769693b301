// Command memchat is a chat front end for the memcore memory system.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/deskpet/memcore/config"
	"github.com/deskpet/memcore/logging"
	"github.com/deskpet/memcore/session"
)

var version = "0.1.0"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	envFile    string
	memoryPath string
	provider   string
	logLevel   string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "memchat",
		Short: "Chat with a companion that remembers",
		Long: `memchat runs conversations against a persistent semantic memory.
Personal facts, plans and explicit requests to remember are stored
automatically, retrieved by meaning on later turns, and can be removed
by asking to forget them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&g.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	flags.StringVarP(&g.memoryPath, "memory", "m", "", "Memory file prefix (overrides memory.path)")
	flags.StringVarP(&g.provider, "provider", "p", "", "Embedding provider: onnx, ollama, openai, mock or none")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(newChatCmd(g))
	root.AddCommand(newServeCmd(g))
	root.AddCommand(newStatsCmd(g))
	root.AddCommand(newListCmd(g))
	root.AddCommand(newForgetCmd(g))
	root.AddCommand(newCleanupCmd(g))
	return root
}

// load reads the dotenv file, then the config file and environment, then
// applies flag overrides.
func (g *globals) load(cmd *cobra.Command) error {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(err, "failed to load env file", goerr.V("path", g.envFile))
		}
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("memory") {
		cfg.Memory.Path = g.memoryPath
	}
	if cmd.Flags().Changed("provider") {
		cfg.Embedder.Provider = g.provider
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault(logging.New(cmd.ErrOrStderr(), logging.Options{
		Level:        cfg.LogLevel,
		Format:       cfg.LogFormat,
		KeepUserText: cfg.LogUserText,
	}))
	g.cfg = cfg
	return nil
}

// openSession opens the configured session. Callers must Close it.
func (g *globals) openSession(ctx context.Context, opts ...session.Option) (*session.Session, error) {
	sess, err := session.New(ctx, g.cfg, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open memory session", goerr.V("path", g.cfg.Memory.Path))
	}
	return sess, nil
}

func closeSession(sess *session.Session) {
	if err := sess.Close(); err != nil {
		logging.Default().Error("failed to save memories on exit", "error", err)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
