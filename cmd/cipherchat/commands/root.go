package commands

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"cipherchat/internal/app"
)

// requestTimeout bounds one-shot relay calls.
const requestTimeout = 15 * time.Second

var wire *app.Wire

func Execute() error {
	root := &cobra.Command{
		Use:           "cipherchat",
		Short:         "End-to-end encrypted chat CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := app.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := app.LoadConfig(v)
			if err != nil {
				return err
			}
			log, err := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogJSON)
			if err != nil {
				return err
			}
			wire, err = app.NewWire(cfg, log)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.String(app.KeyHome, "", "config dir (default ~/.cipherchat)")
	pf.StringP(app.KeyPassphrase, "p", "", "passphrase protecting local keys")
	pf.String(app.KeyRelay, app.DefaultRelayURL, "relay base URL")
	pf.String(app.KeyLogLevel, "info", "log level (debug, info, warn, error)")
	pf.Bool(app.KeyLogJSON, false, "log as JSON")

	root.AddCommand(
		registerCmd(),
		loginCmd(),
		logoutCmd(),
		fingerprintCmd(),
		searchCmd(),
		chatCmd(),
	)

	if err := root.Execute(); err != nil {
		root.PrintErrln("Error:", err)
		return err
	}
	return nil
}

// requestContext returns a context for a single relay round trip that is
// also cancelled on interrupt.
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
