// Package cmd implements the timekeeperctl commands.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mescon/timekeeper/internal/client"
	"github.com/mescon/timekeeper/internal/config"
)

const defaultServerURL = "http://localhost:" + config.DefaultPort

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
	timeout      time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "timekeeperctl",
	Short:         "Control stopwatches and countdowns on a Timekeeper server",
	Version:       config.Version,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "table", "json", "yaml":
			return nil
		default:
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.timekeeper/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "server URL (default from config, TIMEKEEPER_URL or "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default from config or TIMEKEEPER_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
}

// initConfig resolves the server URL and API key. Flags win over the
// environment, which wins over the config file.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".timekeeper"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TIMEKEEPER")
	_ = viper.BindEnv("url")
	_ = viper.BindEnv("api_key")
	viper.SetDefault("url", defaultServerURL)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}

	if serverURL == "" {
		serverURL = viper.GetString("url")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

func newClient() *client.Client {
	return client.New(GetServerURL(), apiKey)
}
