package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ed25519"

	"funblink/app/internal/app/bootstrap"
	"funblink/app/internal/domain/account"
	"funblink/app/internal/platform/config"
	applog "funblink/app/internal/platform/log"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format   string
	DBPath   string
	LogLevel string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the blinkctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "blinkctl",
		Short: "Operate blink lists",
		Long:  "Generate keys, derive list addresses, sign requests and manage blink lists in the local ledger.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, "invalid format "+opts.Format+": must be one of "+strings.Join(ValidFormats, ", "))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "ledger database path (defaults to DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level for diagnostics written to stderr")

	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewDeriveCommand(opts))
	cmd.AddCommand(NewSignCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewCloseCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// loadConfig reads the environment configuration and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	return cfg, nil
}

// openServices wires the ledger and blink service for a single command run.
func (o *RootOptions) openServices(ctx context.Context, cmd *cobra.Command) (bootstrap.Services, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return bootstrap.Services{}, err
	}

	logger, err := applog.NewLogger(o.LogLevel)
	if err != nil {
		return bootstrap.Services{}, WrapExitError(ExitCommandError, "configuring logger", err)
	}
	logger.SetOutput(errWriter(cmd))

	services, err := bootstrap.BuildServices(ctx, bootstrap.Dependencies{Config: *cfg, Logger: logger})
	if err != nil {
		return bootstrap.Services{}, WrapExitError(ExitCommandError, "opening ledger", err)
	}

	return services, nil
}

func closeServices(services bootstrap.Services, cmd *cobra.Command) {
	if services.Cleanup == nil {
		return
	}
	if err := services.Cleanup(); err != nil {
		_, _ = io.WriteString(errWriter(cmd), "warning: closing ledger: "+err.Error()+"\n")
	}
}

func errWriter(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stderr
	}
	return cmd.ErrOrStderr()
}

// readKeyFile loads a base58 encoded private key written by keygen.
func readKeyFile(path string) (ed25519.PrivateKey, account.Pubkey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, account.Pubkey{}, NewExitError(ExitCommandError, "--key is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, account.Pubkey{}, WrapExitError(ExitCommandError, "reading key file", err)
	}

	key, err := account.ParsePrivateKey(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, account.Pubkey{}, WrapExitError(ExitCommandError, "parsing key file", err)
	}

	owner, err := account.PubkeyFromPrivateKey(key)
	if err != nil {
		return nil, account.Pubkey{}, WrapExitError(ExitCommandError, "deriving owner", err)
	}

	return key, owner, nil
}

func parseOwnerArg(raw string) (account.Pubkey, error) {
	owner, err := account.ParsePubkey(strings.TrimSpace(raw))
	if err != nil {
		return account.Pubkey{}, WrapExitError(ExitCommandError, "owner is not a valid public key", eris.Wrap(err, raw))
	}
	return owner, nil
}
