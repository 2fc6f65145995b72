package cmd

import (
	"fmt"

	"reconciliation-engine/cmd/reconciler/config"
	"reconciliation-engine/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootOptions is the state shared by every command of one invocation
type rootOptions struct {
	cfgFile string
	verbose bool

	viper *viper.Viper
	// overrides maps flag names onto the settings they replace when set
	overrides map[string]string

	config *config.AppConfig
	logger logger.Logger
}

// bind makes flag override the setting key, but only when the flag is set
func (o *rootOptions) bind(flag, key string) {
	o.overrides[flag] = key
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{
		viper:     viper.New(),
		overrides: make(map[string]string),
	}

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Bank statement reconciliation engine",
		Long: `Reconciler matches the line items of bank statements against recorded
transactions, keeps the ledger of confirmed matches, imports unrecorded items
and writes an append-only audit log of every change.

It runs as an HTTP service (serve) or operates directly on the configured
database from the command line.

Examples:
  reconciler serve --port 8080
  reconciler ingest --file march.csv --bank-name "First Bank"
  reconciler automatch --statement 1
  reconciler export --statement 1 --output-format csv --output-file march.csv
  reconciler reconcile --transactions-file tx.csv --statement-file march.csv --bank-name "First Bank"`,
		Version:       getVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initConfig(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (optional)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	flags.String("db-driver", "", "storage driver: memory, sqlite, mysql")
	flags.String("db-dsn", "", "storage connection string")
	opts.bind("db-driver", "database.driver")
	opts.bind("db-dsn", "database.dsn")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newAutoMatchCmd(opts),
		newMatchCmd(opts),
		newUnmatchCmd(opts),
		newStatusCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
		newAuditCmd(opts),
		newTransactionsCmd(opts),
		newReconcileCmd(opts),
		newFixturesCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree against the process arguments and returns
// the exit code
func Execute() int {
	rootCmd := NewRootCmd()
	err := rootCmd.Execute()
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	return NewCLIErrorHandler(verbose).HandleError(err)
}

// initConfig reads the config file, environment variables and set flags, in
// increasing precedence, and installs the configured logger.
func (o *rootOptions) initConfig(cmd *cobra.Command) error {
	config.BindEnv(o.viper)
	if o.cfgFile != "" {
		if err := config.ReadFile(o.viper, o.cfgFile); err != nil {
			return err
		}
	}

	for flag, key := range o.overrides {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			o.viper.Set(key, f.Value.String())
		}
	}

	cfg, err := config.Load(o.viper)
	if err != nil {
		return err
	}
	if o.verbose {
		cfg.Log.Level = logger.DebugLevel
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)

	o.config = cfg
	o.logger = log
	if o.cfgFile != "" {
		log.WithField("config_file", o.viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reconciler %s\n", getVersionString())
		},
	}
}
