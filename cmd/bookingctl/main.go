// Command bookingctl books appointments from a terminal, either from flags
// or through interactive forms, using the same wizard as the HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wolfman30/booking-wizard/internal/app/bootstrap"
	"github.com/wolfman30/booking-wizard/internal/booking"
	appconfig "github.com/wolfman30/booking-wizard/internal/config"
	"github.com/wolfman30/booking-wizard/internal/directory"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:          "bookingctl",
		Short:        "Book clinic appointments from the command line",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "error", "log level (debug, info, warn, error)")

	root.AddCommand(stagesCmd())
	root.AddCommand(bookCmd(&logLevel))
	return root
}

func stagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "Print the booking stages and their dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printStages(cmd.OutOrStdout(), booking.NewGraph())
		},
	}
}

func bookCmd(logLevel *string) *cobra.Command {
	var (
		answers     = map[string]*string{}
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment",
		Long: "Book an appointment. Every stage can be given as a flag; with " +
			"--interactive the remaining choices are asked for one stage at a time.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := appconfig.Load()
			logger := logging.New(*logLevel)

			values := make(map[string]string, len(answers))
			for name, v := range answers {
				if *v != "" {
					values[name] = *v
				}
			}
			var ch chooser = flagChooser(values)
			if interactive {
				ch = newFormChooser(values, cmd.OutOrStdout())
			}
			return book(ctx, cfg, logger, ch, cmd.OutOrStdout())
		},
	}
	for _, st := range booking.Stages() {
		if st.Terminal {
			continue
		}
		answers[st.Name] = cmd.Flags().String(st.Name, "", fmt.Sprintf("%s value (%s)", st.Name, st.Field))
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask for missing choices with terminal forms")
	return cmd
}

func book(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, ch chooser, out io.Writer) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	dir := directory.New(pool, directory.Config{
		Location:     loc,
		DateWindow:   cfg.DateWindowDays,
		PatientLimit: cfg.PatientLimit,
		Logger:       logger,
	})
	session := bootstrap.SessionFactory(cfg, dir, nil, logger)("")

	conf, err := drive(ctx, session, ch, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Booked %s\nConfirmation code: %s\n", conf.Summary, conf.ConfirmationCode)
	return nil
}
