package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/geoscout/internal/capture"
	"github.com/HerbHall/geoscout/internal/geolocation"
	"github.com/HerbHall/geoscout/internal/history"
)

var (
	locateKey  string
	locateFile string
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Geolocate the access points in a capture output",
	Long: `locate parses a capture output, either a path or the name of a history
entry, and submits its access points to the geolocation provider.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		cfg, err := e.pluginConfig()
		if err != nil {
			return err
		}

		path, err := resolveCapture(history.New(cfg.HistoryDir), locateFile)
		if err != nil {
			return err
		}
		networks, err := capture.ParseFile(path)
		if err != nil {
			return err
		}
		if len(networks) == 0 {
			return fmt.Errorf("no access points in %s", path)
		}

		client := geolocation.New(cfg.Geolocation, e.logger.Named("geolocation"))
		res := client.Submit(cmd.Context(), networks, locateKey)
		if !res.Success() {
			return errors.New(res.Message)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, time.Now().Format(geolocation.TimestampLayout))
		fmt.Fprintf(out, "Latitude:  %s\n", res.LatitudeString())
		fmt.Fprintf(out, "Longitude: %s\n", res.LongitudeString())
		return nil
	},
}

func init() {
	locateCmd.Flags().StringVar(&locateKey, "key", "", "geolocation provider API key (required)")
	locateCmd.Flags().StringVar(&locateFile, "file", "", "capture output path or history entry name (required)")
	_ = locateCmd.MarkFlagRequired("key")
	_ = locateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(locateCmd)
}

// resolveCapture prefers an existing path and falls back to a history entry.
func resolveCapture(h *history.Store, name string) (string, error) {
	if info, err := os.Stat(name); err == nil && info.Mode().IsRegular() {
		return name, nil
	}
	p, err := h.Path(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", history.ErrNotFound, name)
	}
	return p, nil
}
