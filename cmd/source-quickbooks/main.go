package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/connector"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
	"github.com/drivepoint/source-quickbooks/pkg/logger"
	"github.com/drivepoint/source-quickbooks/pkg/metrics"
	"github.com/drivepoint/source-quickbooks/pkg/observability"
	"github.com/drivepoint/source-quickbooks/pkg/protocol"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand(os.Stdout, viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every command shares
type app struct {
	out     io.Writer
	emitter *protocol.Emitter
	viper   *viper.Viper
}

func newRootCommand(out io.Writer, v *viper.Viper) *cobra.Command {
	a := &app{out: out, emitter: protocol.NewEmitter(out), viper: v}

	root := &cobra.Command{
		Use:   "source-quickbooks",
		Short: "QuickBooks Online reports source",
		Long: `source-quickbooks reads the Balance Sheet and Profit and Loss reports of a
QuickBooks Online company and writes them as protocol messages on stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindSettings(v, root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "source-quickbooks v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "spec",
		Short: "Print the connector specification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run("spec", func(ctx context.Context, src *connector.Source) error {
				return src.Spec(ctx)
			})
		},
	})

	var configFile string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the credentials against the Reports API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run("check", func(ctx context.Context, src *connector.Source) error {
				cfg, err := loadConfig(configFile)
				if err != nil {
					// check reports unreadable configuration as a failed status
					return a.emitter.ConnectionStatus(false, err.Error())
				}
				return src.Check(ctx, cfg)
			})
		},
	}
	checkCmd.Flags().StringVar(&configFile, "config", "", "Path to the configuration file (required)")
	_ = checkCmd.MarkFlagRequired("config")
	root.AddCommand(checkCmd)

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Print the catalog of available streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run("discover", func(ctx context.Context, src *connector.Source) error {
				cfg, err := loadConfig(configFile)
				if err != nil {
					return err
				}
				return src.Discover(ctx, cfg)
			})
		},
	}
	discoverCmd.Flags().StringVar(&configFile, "config", "", "Path to the configuration file (required)")
	_ = discoverCmd.MarkFlagRequired("config")
	root.AddCommand(discoverCmd)

	var catalogFile, stateFile string
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read records from the configured streams",
		Long: `Read records from the streams selected in the configured catalog.

Example:
  source-quickbooks read --config config.json --catalog catalog.json --state state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run("read", func(ctx context.Context, src *connector.Source) error {
				cfg, err := loadConfig(configFile)
				if err != nil {
					return err
				}
				catalog, err := protocol.ReadConfiguredCatalog(catalogFile)
				if err != nil {
					return errors.Wrap(err, errors.ErrorTypeConfig, "invalid catalog")
				}
				state, err := protocol.ReadState(stateFile)
				if err != nil {
					return errors.Wrap(err, errors.ErrorTypeConfig, "invalid state")
				}
				return src.Read(ctx, cfg, catalog, state)
			})
		},
	}
	readCmd.Flags().StringVar(&configFile, "config", "", "Path to the configuration file (required)")
	readCmd.Flags().StringVar(&catalogFile, "catalog", "", "Path to the configured catalog (required)")
	readCmd.Flags().StringVar(&stateFile, "state", "", "Path to the state file")
	_ = readCmd.MarkFlagRequired("config")
	_ = readCmd.MarkFlagRequired("catalog")
	root.AddCommand(readCmd)

	return root
}

func loadConfig(path string) (*config.SourceConfig, error) {
	cfg, err := config.LoadSource(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}
	return cfg, nil
}

// run sets up logging, metrics and tracing for one command and reports a
// failure as a TRACE message
func (a *app) run(command string, fn func(ctx context.Context, src *connector.Source) error) error {
	s := loadSettings(a.viper)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	ctx = context.WithValue(ctx, logger.CommandKey, command)

	if err := logger.Init(logger.Config{
		Level:    s.LogLevel,
		Encoding: s.LogFormat,
		Output:   a.emitter,
	}); err != nil {
		_ = a.emitter.TraceError("Invalid logger settings", err, protocol.FailureTypeConfig, "")
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.WithContext(ctx)

	var collector *metrics.Collector
	if s.MetricsAddr != "" {
		collector = metrics.NewCollector()
		go func() {
			if err := collector.Serve(ctx, s.MetricsAddr, log); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if s.EnableTracing {
		tc := observability.DefaultConfig()
		tc.ServiceVersion = version
		if err := observability.Initialize(tc); err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = observability.Shutdown(context.Background()) }()
		}
	}

	src := connector.New(connector.Options{
		Emitter: a.emitter,
		Logger:  log,
		Metrics: collector,
		RunID:   runID,
	})

	err := fn(ctx, src)
	if err != nil {
		a.fail(log, err)
	}
	return err
}

func (a *app) fail(log *zap.Logger, err error) {
	log.Error("command failed", zap.Error(err))

	failure := protocol.FailureTypeSystem
	if errors.HasType(err, errors.ErrorTypeConfig) {
		failure = protocol.FailureTypeConfig
	}
	stream := ""
	var e *errors.Error
	if errors.As(err, &e) {
		if name, ok := e.Details["stream"].(string); ok {
			stream = name
		}
	}
	_ = a.emitter.TraceError(userMessage(err), err, failure, stream)
}

func userMessage(err error) string {
	var e *errors.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
