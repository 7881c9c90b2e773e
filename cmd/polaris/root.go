package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"

	"github.com/polaris-dashboard/polaris"
)

var cfgFile string
var logger polaris.LoggerAdapter = polaris.NopLogger{}

var rootCmd = &cobra.Command{
	Use:   "polaris",
	Short: "Discord welcome messages with a web dashboard.",
	Long: `Polaris posts welcome messages when members join a Discord server.

The bot process holds the Discord gateway cache, the web process serves the dashboard.
The two talk over a message broker.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(viper.GetString("log.format"), viper.GetBool("debug"), viper.GetBool("trace"))

		writeConfig := viper.GetString("writeConfig")
		if writeConfig != "" {
			settings := viper.AllSettings()
			delete(settings, "writeconfig")
			b, err := yaml.Marshal(settings)
			if err != nil {
				return errors.Wrap(err, "could not marshal config to yaml")
			}

			if err := os.WriteFile(writeConfig, b, 0o600); err != nil {
				return errors.Wrap(err, "could not write config file")
			}
		}

		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().SortFlags = false

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.polaris.yaml)")

	outputFlags := pflag.NewFlagSet("output", pflag.ExitOnError)
	outputFlags.String("log-format", "text", "Log format, text or json")
	ensure(viper.BindPFlag("log.format", outputFlags.Lookup("log-format")))

	outputFlags.BoolP("debug", "d", false, "If true, debug output is enabled from the logger")
	ensure(viper.BindPFlag("debug", outputFlags.Lookup("debug")))

	outputFlags.Bool("trace", false, "If true, trace output is enabled from the logger")
	ensure(viper.BindPFlag("trace", outputFlags.Lookup("trace")))

	outputFlags.String("write-config", "", "Write the config of the current command as yaml to the specified path")
	ensure(viper.BindPFlag("writeConfig", outputFlags.Lookup("write-config")))

	rootCmd.PersistentFlags().AddFlagSet(outputFlags)
	rootCmd.PersistentFlags().AddFlagSet(brokerFlags())
	rootCmd.PersistentFlags().AddFlagSet(storeFlags())

	rootCmd.AddCommand(botCmd, webCmd, devCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".polaris")
	}

	// POLARIS_REDIS_URL overrides redis.url
	viper.SetEnvPrefix("polaris")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(format string, debug, trace bool) polaris.LoggerAdapter {
	return newLoggerWithOut(os.Stderr, format, debug, trace)
}

func newLoggerWithOut(out io.Writer, format string, debug, trace bool) polaris.LoggerAdapter {
	if format != "json" {
		return polaris.NewStdLoggerWithOut(out, debug, trace)
	}

	level := slog.LevelInfo
	switch {
	case trace:
		level = polaris.LevelTrace
	case debug:
		level = slog.LevelDebug
	}

	return polaris.NewSlogLogger(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
