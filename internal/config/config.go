// Package config resolves the runtime configuration for the grid pipeline.
//
// Values come from viper (flags, environment, config file); this package owns
// the defaults and the typed snapshot handed to the rest of the program.
// Validation of user input happens at the CLI layer.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config is an immutable snapshot of the configuration surface consumed by
// the pipeline.
type Config struct {
	CacheDir string
	LogFile  string

	// Thumbnail toggles the thumbnail pipeline; when off, grid cells render
	// from the full image.
	Thumbnail bool
	// ThumbnailCache is the cache capacity in bytes. 0 disables eviction.
	ThumbnailCache int64
	// ThumbnailSize is the maximum thumbnail dimension in pixels.
	ThumbnailSize int

	// Checkers bounds concurrent directory scans.
	Checkers int
	// Getters bounds concurrent URL fetches.
	Getters int
	// GridRenderers is the render pool size. Effective only with Multi.
	GridRenderers int
	// Multi enables pooled render workers; when false, render jobs execute
	// inline on the submitting goroutine.
	Multi bool

	// CellWidth is the grid cell width in terminal columns.
	CellWidth int

	Recursive      bool
	MaxDepth       int
	ShowHidden     bool
	FollowSymlinks bool

	// QueryTimeout bounds each remote fetch.
	QueryTimeout time.Duration
	// MaxPixels is the pixel-count threshold above which an image is skipped
	// unless force-rendered.
	MaxPixels int64
}

// SetDefaults registers defaults for every configuration key.
func SetDefaults() {
	viper.SetDefault("cache-dir", DefaultCacheDir())
	viper.SetDefault("log-file", "")
	viper.SetDefault("thumbnail", true)
	viper.SetDefault("thumbnail-cache", int64(256<<20))
	viper.SetDefault("thumbnail-size", 256)
	viper.SetDefault("checkers", DefaultCheckers())
	viper.SetDefault("getters", 4)
	viper.SetDefault("grid-renderers", 1)
	viper.SetDefault("multi", true)
	viper.SetDefault("cell-width", 30)
	viper.SetDefault("recursive", false)
	viper.SetDefault("max-depth", 5)
	viper.SetDefault("hidden", false)
	viper.SetDefault("follow-symlinks", true)
	viper.SetDefault("query-timeout", 30*time.Second)
	viper.SetDefault("max-pixels", int64(4<<20))
}

// FromViper captures the current viper state into a Config.
func FromViper() Config {
	return Config{
		CacheDir:       viper.GetString("cache-dir"),
		LogFile:        viper.GetString("log-file"),
		Thumbnail:      viper.GetBool("thumbnail"),
		ThumbnailCache: viper.GetInt64("thumbnail-cache"),
		ThumbnailSize:  viper.GetInt("thumbnail-size"),
		Checkers:       viper.GetInt("checkers"),
		Getters:        viper.GetInt("getters"),
		GridRenderers:  viper.GetInt("grid-renderers"),
		Multi:          viper.GetBool("multi"),
		CellWidth:      viper.GetInt("cell-width"),
		Recursive:      viper.GetBool("recursive"),
		MaxDepth:       viper.GetInt("max-depth"),
		ShowHidden:     viper.GetBool("hidden"),
		FollowSymlinks: viper.GetBool("follow-symlinks"),
		QueryTimeout:   viper.GetDuration("query-timeout"),
		MaxPixels:      viper.GetInt64("max-pixels"),
	}
}

// RenderWorkers returns the render pool size implied by the multi flag.
// 0 means inline execution.
func (c Config) RenderWorkers() int {
	if !c.Multi {
		return 0
	}
	if c.GridRenderers < 1 {
		return 1
	}
	return c.GridRenderers
}

// DefaultCheckers sizes the scan worker pool from the host CPU count.
func DefaultCheckers() int {
	return max(2, runtime.NumCPU()/2)
}

// DefaultCacheDir is the per-user cache location, falling back to the
// system temp dir when no user cache dir is resolvable.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "gridview")
}
