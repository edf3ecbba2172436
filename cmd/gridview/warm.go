package main

import (
	"fmt"
	"image"
	"os"
	"sync/atomic"
	"time"

	"github.com/okaneo/gridview/internal/config"
	"github.com/okaneo/gridview/internal/errutil"
	"github.com/okaneo/gridview/internal/fetch"
	"github.com/okaneo/gridview/internal/fingerprint"
	"github.com/okaneo/gridview/internal/store"
	"github.com/okaneo/gridview/internal/thumb"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var warmCmd = &cobra.Command{
	Use:   "warm <source>...",
	Short: "Pre-generate thumbnails for sources",
	Long: `warm scans the given sources and fills the thumbnail cache ahead of
browsing, so a later browse serves every cell from disk.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWarm,
}

func init() {
	rootCmd.AddCommand(warmCmd)
}

func runWarm(cmd *cobra.Command, args []string) error {
	cfg := config.FromViper()
	ctx := cmd.Context()

	entries := collectEntries(ctx, cfg, args)
	if len(entries) == 0 {
		return fmt.Errorf("no images found")
	}

	st, err := store.Open(cfg.CacheDir, cfg.ThumbnailCache)
	if err != nil {
		return err
	}
	defer errutil.Close(st, "Failed to close thumbnail cache")

	fetcher := fetch.New(nil, cfg.Getters, cfg.QueryTimeout)

	bar := progressbar.NewOptions64(
		int64(len(entries)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("warming"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprint(os.Stderr, "\n"); err != nil {
				errutil.LogMsg(err, "Failed to print newline to stderr")
			}
		}),
	)

	var generated, skipped, failed atomic.Int64
	var gen thumb.Generator

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.Checkers))
	for _, ent := range entries {
		ent := ent
		g.Go(func() error {
			defer errutil.LogMsg(bar.Add(1), "Failed to advance progress bar")

			var data []byte
			var err error
			if ent.Remote {
				_, data, err = fetcher.FetchToCache(ctx, ent.Path, st.Dir())
			} else {
				data, err = os.ReadFile(ent.Path)
			}
			if err != nil {
				failed.Add(1)
				errutil.LogMsg(err, "Failed to read source", "path", ent.Path)
				return nil
			}

			if cfg.MaxPixels > 0 {
				if w, h, dimErr := thumb.Dimensions(data); dimErr == nil && int64(w)*int64(h) > cfg.MaxPixels {
					skipped.Add(1)
					return nil
				}
			}

			key := fingerprint.Content(data, cfg.ThumbnailSize)
			if _, ok := st.Get(key); ok {
				skipped.Add(1)
				return nil
			}
			_, err = st.GetOrGenerate(ctx, key, func() (image.Image, error) {
				return gen.GenerateBytes(data, cfg.ThumbnailSize)
			})
			if err != nil {
				failed.Add(1)
				errutil.LogMsg(err, "Failed to generate thumbnail", "path", ent.Path)
				return nil
			}
			generated.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	entriesN, bytes := st.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "generated %d, skipped %d, failed %d (cache: %d entries, %d bytes)\n",
		generated.Load(), skipped.Load(), failed.Load(), entriesN, bytes)
	return nil
}
