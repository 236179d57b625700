package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-tavern/client/internal/config"
	"github.com/zhouzirui/z-tavern/client/internal/logging"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
	"github.com/zhouzirui/z-tavern/client/internal/service/engine"
)

type rootFlags struct {
	apiURL   string
	wsURL    string
	logLevel string
	plain    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal client for the expressive avatar chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envErr := godotenv.Load()

			loaded, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := logging.Setup(loaded.Log.Level, os.Stderr); err != nil {
				return err
			}
			if envErr != nil {
				log.Debug().Err(envErr).Msg("no .env file, using system environment variables only")
			}
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cfg, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.apiURL, "api-url", "", "REST base url (overrides CHAT_API_URL)")
	pf.StringVar(&flags.wsURL, "ws-url", "", "push channel base url (overrides CHAT_WS_URL)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	root.Flags().BoolVar(&flags.plain, "plain", false, "print bot replies without markdown rendering")

	root.AddCommand(newSessionsCmd(func() *config.Config { return cfg }))
	return root
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.apiURL != "" {
		cfg.Client.APIURL = strings.TrimRight(flags.apiURL, "/")
	}
	if flags.wsURL != "" {
		cfg.Client.WSURL = strings.TrimRight(flags.wsURL, "/")
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func newSessionsCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(cfg().Client)
			sessions, err := client.ListSessions(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "list sessions")
			}
			printSessions(cmd.OutOrStdout(), sessions, "")
			return nil
		},
	}
}

func runChat(ctx context.Context, cfg *config.Config, flags *rootFlags) error {
	client := api.NewClient(cfg.Client)
	eng, err := engine.New(engine.Options{Backend: client, Config: cfg.Client})
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	markdown := !flags.plain && isatty.IsTerminal(os.Stdout.Fd())
	out, err := newConsole(os.Stdout, markdown)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		out.notice("could not load sessions: %v (use /refresh to retry)", err)
	}

	r := &repl{
		engine:    eng,
		in:        os.Stdin,
		out:       out,
		confirmer: newPromptConfirmer(os.Stdin, os.Stdout),
	}
	return r.run(ctx)
}
