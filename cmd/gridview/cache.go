package main

import (
	"fmt"

	"github.com/okaneo/gridview/internal/config"
	"github.com/okaneo/gridview/internal/errutil"
	"github.com/okaneo/gridview/internal/store"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the thumbnail cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache entry count and size",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromViper()
		st, err := store.Open(cfg.CacheDir, cfg.ThumbnailCache)
		if err != nil {
			return err
		}
		defer errutil.Close(st, "Failed to close thumbnail cache")

		entries, bytes := st.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "dir:      %s\nentries:  %d\nbytes:    %d\ncapacity: %d\n",
			cfg.CacheDir, entries, bytes, cfg.ThumbnailCache)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached thumbnail",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromViper()
		st, err := store.Open(cfg.CacheDir, cfg.ThumbnailCache)
		if err != nil {
			return err
		}
		defer errutil.Close(st, "Failed to close thumbnail cache")

		if err := st.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
