package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracyhatemice/mailcode/internal/config"
	"github.com/tracyhatemice/mailcode/internal/credential"
	"github.com/tracyhatemice/mailcode/internal/extract"
	"github.com/tracyhatemice/mailcode/internal/fetcher"
	"github.com/tracyhatemice/mailcode/internal/prompt"
	"github.com/tracyhatemice/mailcode/internal/receiver"
	"github.com/tracyhatemice/mailcode/internal/report"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	interactive bool
	keyring     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "mailcode",
		Short:        "Fetch recent mail and extract verification codes and links",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts.configPath)
			if err != nil {
				return err
			}
			return run(cmd, cfg, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "path to configuration file")
	flags.String("protocol", "", "mail protocol: imap or pop3")
	flags.String("host", "", "mail server hostname")
	flags.Int("port", 0, "mail server port (default 993 for imap, 995 for pop3)")
	flags.String("user", "", "mailbox address")
	flags.Bool("use-tls", true, "use implicit TLS")
	flags.String("log-level", "", "logging level: debug, info, warn, error")

	local := cmd.Flags()
	local.String("sender", "", "only messages whose From contains this")
	local.String("subject", "", "only messages whose Subject contains this")
	local.String("recipient", "", "only messages whose To contains this")
	local.String("content", "", "content keyword (accepted, not applied)")
	local.Int("hours", 0, "time window in hours (default 24)")
	local.String("output-dir", "", "directory for report files")
	local.Bool("scan-plain-text", false, "also scan text/plain messages without HTML")
	local.BoolVarP(&opts.interactive, "interactive", "i", false, "prompt for search parameters")
	local.BoolVar(&opts.keyring, "keyring", true, "look up the password in the system keyring")

	cmd.AddCommand(newLoginCmd(opts), newLogoutCmd(opts))
	return cmd
}

func newLoginCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Store the mailbox password in the system keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts.configPath)
			if err != nil {
				return err
			}

			address := cfg.Account.Username
			var password string
			if err := prompt.Credentials(&address, &password); err != nil {
				return err
			}

			store, err := credential.Open()
			if err != nil {
				return err
			}
			if err := store.Set(address, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password for %s saved to keyring.\n", address)
			return nil
		},
	}
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout [address]",
		Short: "Remove the mailbox password from the system keyring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts.configPath)
			if err != nil {
				return err
			}

			address := cfg.Account.Username
			if len(args) == 1 {
				address = args[0]
			}

			store, err := credential.Open()
			if err != nil {
				return err
			}
			return forget(store, address, cmd.OutOrStdout())
		},
	}
}

// forget deletes the stored password for address. A missing entry is not an error.
func forget(store *credential.Store, address string, out io.Writer) error {
	if address == "" {
		return errors.New("no mailbox address: pass one or set account.username")
	}
	err := store.Delete(address)
	if errors.Is(err, credential.ErrNotFound) {
		fmt.Fprintf(out, "No password stored for %s.\n", address)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Password for %s removed from keyring.\n", address)
	return nil
}

// loadConfig reads the config file and applies any flags the user set.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	setString := func(name string, dst *string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	setInt := func(name string, dst *int) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}

	setString("protocol", &cfg.Account.Protocol)
	setString("host", &cfg.Account.Host)
	setInt("port", &cfg.Account.Port)
	setString("user", &cfg.Account.Username)
	setBool("use-tls", &cfg.Account.UseTLS)
	setString("log-level", &cfg.LogLevel)
	setString("sender", &cfg.Search.Sender)
	setString("subject", &cfg.Search.Subject)
	setString("recipient", &cfg.Search.Recipient)
	setString("content", &cfg.Search.Content)
	setInt("hours", &cfg.Search.Hours)
	setString("output-dir", &cfg.OutputDir)
	setBool("scan-plain-text", &cfg.Extract.ScanPlainText)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, cfg *config.Config, opts *options) error {
	logger := setupLogger(cfg.LogLevel, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := resolveCredentials(&cfg.Account, opts.keyring, logger); err != nil {
		return err
	}

	criteria := cfg.Search.Criteria()
	if opts.interactive {
		var err error
		criteria, err = prompt.Search(criteria)
		if err != nil {
			return err
		}
	}

	recv, err := newReceiver(cfg.Account, logger)
	if err != nil {
		return err
	}
	defer recv.Close()

	logger.Info("mailcode starting",
		"protocol", cfg.Account.Protocol,
		"host", cfg.Account.Host,
		"user", cfg.Account.Username,
	)

	out := cmd.OutOrStdout()
	f := fetcher.New(
		recv,
		extract.New(extract.Options{ScanPlainText: cfg.Extract.ScanPlainText}),
		report.New(cfg.OutputDir, out),
		logger,
	)

	sum, err := f.Run(ctx, criteria)
	if err != nil {
		return fmt.Errorf("fetch emails: %w", err)
	}

	if sum.Path == "" {
		fmt.Fprintf(out, "\nNo matching messages in the past %s.\n", criteria.Window)
		return nil
	}
	fmt.Fprintf(out, "\nResults saved to %s\n", sum.Path)
	return nil
}

// resolveCredentials fills a missing password from the keyring and then
// prompts for whatever is still missing.
func resolveCredentials(acct *config.Account, useKeyring bool, logger *slog.Logger) error {
	if acct.Password == "" && acct.Username != "" && useKeyring {
		password, err := lookupPassword(acct.Username)
		switch {
		case err == nil:
			acct.Password = password
		case errors.Is(err, credential.ErrNotFound):
			logger.Debug("no password in keyring", "user", acct.Username)
		default:
			logger.Warn("keyring lookup failed", "error", err)
		}
	}

	if acct.Username == "" || acct.Password == "" {
		if err := prompt.Credentials(&acct.Username, &acct.Password); err != nil {
			return err
		}
	}
	return nil
}

func lookupPassword(address string) (string, error) {
	store, err := credential.Open()
	if err != nil {
		return "", err
	}
	return store.Get(address)
}

func newReceiver(acct config.Account, logger *slog.Logger) (receiver.Receiver, error) {
	switch acct.Protocol {
	case "pop3":
		return receiver.NewPOP3(
			acct.Host, acct.GetPort(),
			acct.Username, acct.Password,
			acct.UseTLS, logger,
		), nil
	case "imap":
		return receiver.NewIMAP(
			acct.Host, acct.GetPort(),
			acct.Username, acct.Password,
			acct.UseTLS, logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", acct.Protocol)
	}
}

func setupLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
