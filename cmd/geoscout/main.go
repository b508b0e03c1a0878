// Command geoscout runs the wireless capture and geolocation service and
// offers offline access to its history, backups and the provider.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/geoscout/internal/config"
	"github.com/HerbHall/geoscout/internal/geolocate"
	"github.com/HerbHall/geoscout/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "geoscout",
	Short: "Wireless capture and Wi-Fi geolocation service",
	Long: `geoscout drives a wireless capture tool, keeps a history of its scan
output and resolves observed access points to a location through a Wi-Fi
geolocation provider.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is the loaded configuration shared by the subcommands.
type env struct {
	v        *viper.Viper
	settings config.Settings
	logger   *zap.Logger
}

func loadEnv() (*env, error) {
	v, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	settings, err := config.New(v).Settings()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &env{v: v, settings: settings, logger: logger}, nil
}

// pluginConfig returns the geolocate section of the configuration.
func (e *env) pluginConfig() (geolocate.Config, error) {
	sub := e.v.Sub("plugins." + geolocate.Name)
	if sub == nil {
		sub = viper.New()
	}
	return geolocate.ParseConfig(sub)
}
