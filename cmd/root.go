// cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scroller/internal/config"
	"github.com/xkilldash9x/scroller/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// configKeyAnnotation maps a flag onto the viper key it overrides.
const configKeyAnnotation = "scroller_config_key"

// NewRootCommand builds the command tree. Every invocation gets its own
// viper instance so commands never share configuration state.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "scroller",
		Short:         "Scroller reports scenes crossing a trigger line as a page scrolls.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scroller"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting scroller.", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newSimulateCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command with ctx, logging the failure if any.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed.", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	return err
}

// initializeConfig layers the config file, SCROLLER_ environment variables
// and annotated flags onto v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SCROLLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	})
	return bindErr
}

// bindFlag marks flag name on cmd as an override for key.
func bindFlag(cmd *cobra.Command, name, key string) {
	if err := cmd.Flags().SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// configFrom returns the configuration stored by the root command.
func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
