package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/propnest/marketsync/client"
	"github.com/propnest/marketsync/internal/config"
)

const requestTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// cli carries the parsed configuration and persistent flags to sub-commands.
type cli struct {
	cfg      *config.Config
	baseURL  string
	storeDir string
	debug    bool
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	st := &cli{}
	rootCmd := &cobra.Command{
		Use:           "marketsync",
		Short:         "Marketplace messaging and notifications from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine; the environment may already be set.
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("base-url") {
				cfg.BaseURL = st.baseURL
			}
			if cmd.Flags().Changed("store") {
				cfg.StoreDir = st.storeDir
			}
			if st.debug {
				cfg.Debug = true
			}
			cfg.Init(cmd.ErrOrStderr())
			st.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&st.baseURL, "base-url", "", "API base URL (default from MARKETSYNC_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&st.storeDir, "store", "", "Directory for local state; in-memory when empty")
	rootCmd.PersistentFlags().BoolVarP(&st.debug, "debug", "d", false, "Enable verbose debug output")

	rootCmd.AddCommand(newLoginCmd(st))
	rootCmd.AddCommand(newLogoutCmd(st))
	rootCmd.AddCommand(newWhoamiCmd(st))
	rootCmd.AddCommand(newConversationsCmd(st))
	rootCmd.AddCommand(newHistoryCmd(st))
	rootCmd.AddCommand(newSendCmd(st))
	rootCmd.AddCommand(newChatCmd(st))
	rootCmd.AddCommand(newNotificationsCmd(st))
	rootCmd.AddCommand(newStatsCmd(st))
	rootCmd.AddCommand(newReadNotificationCmd(st))
	rootCmd.AddCommand(newDeleteNotificationCmd(st))
	rootCmd.AddCommand(newGetCmd(st))
	rootCmd.AddCommand(newSearchHistoryCmd(st))

	return rootCmd
}

// newClient builds a client from the loaded configuration.
func (st *cli) newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg := st.cfg
	errOut := cmd.ErrOrStderr()
	opts := []client.Option{
		client.WithOrigin(cfg.Origin),
		client.WithPreview(cfg.Preview),
		client.WithStoreDir(cfg.StoreDir),
		client.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		client.WithOpenTimeout(cfg.OpenTimeout),
		client.WithPollIntervals(cfg.ChatPollInterval, cfg.DashboardPollInterval),
		client.WithUserAgent("marketsync-cli"),
		client.WithLogger(log.Logger),
		client.WithNavigator(client.NavigatorFunc(func(string) {
			fmt.Fprintln(errOut, "session expired; run `marketsync login --token ...`")
		})),
	}
	if cfg.Token != "" {
		opts = append(opts, client.WithToken(cfg.Token))
	}
	if cfg.TokenURL != "" {
		opts = append(opts, client.WithFederatedCredentials(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret))
	}
	if cfg.Debug {
		opts = append(opts, client.WithDebugLogging(true))
	}
	return client.New(cfg.BaseURL, opts...)
}

// withClient runs fn with a client and a bounded context, closing the client
// afterwards. Errors come back in user-facing form.
func (st *cli) withClient(cmd *cobra.Command, bounded bool, fn func(ctx context.Context, c *client.Client, out io.Writer) error) error {
	c, err := st.newClient(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}
	start := time.Now()
	err = fn(ctx, c, cmd.OutOrStdout())
	log.Debug().Str("command", cmd.Name()).Dur("elapsed", time.Since(start)).Err(err).Msg("command completed")
	if err != nil {
		return fmt.Errorf("%s: %w", client.UserMessage(err), err)
	}
	return nil
}
