package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/geoscout/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and prune capture history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture outputs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		h, err := historyStore()
		if err != nil {
			return err
		}
		entries, err := h.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSIZE\tMODIFIED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\n", e.Filename, e.Size, e.ModTime.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print a capture output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := historyStore()
		if err != nil {
			return err
		}
		data, err := h.Load(args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <file>",
	Short: "Delete a capture output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := historyStore()
		if err != nil {
			return err
		}
		if err := h.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every capture output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		h, err := historyStore()
		if err != nil {
			return err
		}
		n, err := h.Clear()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d file(s)\n", n)
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyStore() (*history.Store, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, err
	}
	cfg, err := e.pluginConfig()
	if err != nil {
		return nil, err
	}
	return history.New(cfg.HistoryDir, history.WithLogger(e.logger.Named("history"))), nil
}
