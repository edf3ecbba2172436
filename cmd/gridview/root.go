package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/okaneo/gridview"
	"github.com/okaneo/gridview/internal/config"
	"github.com/okaneo/gridview/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:     "gridview",
	Short:   "Browse images as a terminal thumbnail grid",
	Long:    `gridview renders local and remote images as a grid of terminal cells, backed by a size-bounded on-disk thumbnail cache.`,
	Version: gridview.Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if _, printErr := fmt.Fprintln(os.Stderr, err); printErr != nil {
			errutil.ReportError(printErr, "Failed to print error to stderr")
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	f := rootCmd.PersistentFlags()
	f.String("cache-dir", config.DefaultCacheDir(), "Thumbnail cache directory")
	f.String("log-file", "", "Write logs to this file instead of stderr")
	f.BoolP("verbose", "v", false, "Enable debug logging")
	f.Bool("thumbnail", true, "Generate and cache thumbnails (render from the full image when off)")
	f.Int64("thumbnail-cache", 256<<20, "Thumbnail cache capacity in bytes (0 disables eviction)")
	f.Int("thumbnail-size", 256, "Maximum thumbnail dimension in pixels")
	f.Int("checkers", config.DefaultCheckers(), "Concurrent directory scanners")
	f.Int("getters", 4, "Concurrent URL fetches")
	f.BoolP("recursive", "r", false, "Descend into subdirectories")
	f.Int("max-depth", 5, "Maximum recursion depth")
	f.Bool("hidden", false, "Include hidden files and directories")
	f.Bool("follow-symlinks", true, "Follow symbolic links")
	f.Duration("query-timeout", 30*time.Second, "Per-fetch timeout for URL sources")
	f.Int64("max-pixels", 4<<20, "Skip images above this pixel count (0 disables)")

	bindFlags(f,
		"cache-dir", "log-file", "verbose", "thumbnail", "thumbnail-cache",
		"thumbnail-size", "checkers", "getters", "recursive", "max-depth",
		"hidden", "follow-symlinks", "query-timeout", "max-pixels")
}

// bindFlags registers each named flag as a viper key so environment
// variables and config files can override it.
func bindFlags(f *pflag.FlagSet, names ...string) {
	for _, name := range names {
		errutil.LogMsg(viper.BindPFlag(name, f.Lookup(name)), "Failed to bind flag", "flag", name)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GRIDVIEW")
	viper.AutomaticEnv()
	config.SetDefaults()
	setupLogging()
}

func setupLogging() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}

	out := os.Stderr
	if path := viper.GetString("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			slog.Warn("Failed to open log file, logging to stderr", "path", path, "error", err)
		} else {
			out = f
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
}
