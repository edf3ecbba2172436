package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/okaneo/gridview/internal/config"
	"github.com/okaneo/gridview/internal/errutil"
	"github.com/okaneo/gridview/internal/fetch"
	"github.com/okaneo/gridview/internal/grid"
	"github.com/okaneo/gridview/internal/render"
	"github.com/okaneo/gridview/internal/source"
	"github.com/okaneo/gridview/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var browseCmd = &cobra.Command{
	Use:   "browse <source>...",
	Short: "Render sources as a thumbnail grid",
	Long: `browse resolves files, directories and URLs into image entries and
renders them as a grid of truecolor half-block cells on stdout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBrowse,
}

func init() {
	rootCmd.AddCommand(browseCmd)

	f := browseCmd.Flags()
	f.Int("grid-renderers", 1, "Render workers (with --multi)")
	f.Bool("multi", true, "Render cells on a worker pool instead of inline")
	f.Int("cell-width", 30, "Grid cell width in terminal columns")
	f.IntP("columns", "c", 4, "Grid columns")
	f.Bool("force", false, "Render oversize images anyway")

	bindFlags(f, "grid-renderers", "multi", "cell-width", "columns")
}

func runBrowse(cmd *cobra.Command, args []string) error {
	cfg := config.FromViper()
	ctx := cmd.Context()

	entries := collectEntries(ctx, cfg, args)
	if len(entries) == 0 {
		return fmt.Errorf("no images found in %s", strings.Join(args, ", "))
	}

	st, err := store.Open(cfg.CacheDir, cfg.ThumbnailCache)
	if err != nil {
		return err
	}
	defer errutil.Close(st, "Failed to close thumbnail cache")

	cellSize := render.CellSize{Cols: cfg.CellWidth, Rows: max(1, cfg.CellWidth/2)}
	sched := grid.NewScheduler(grid.Options{
		Store:        st,
		Pool:         render.NewPool(render.HalfBlockEncoder{}, cfg.RenderWorkers()),
		Fetcher:      fetch.New(nil, cfg.Getters, cfg.QueryTimeout),
		Thumbnail:    cfg.Thumbnail,
		ThumbnailDim: cfg.ThumbnailSize,
		CellSize:     cellSize,
		MaxPixels:    cfg.MaxPixels,
	})
	defer sched.Close()

	sched.Resize(len(entries), cellSize)
	sched.SetEntries(entries)
	if err := waitSettled(ctx, sched); err != nil {
		return err
	}
	if force, _ := cmd.Flags().GetBool("force"); force {
		sched.ForceRender()
		if err := waitSettled(ctx, sched); err != nil {
			return err
		}
	}

	printGrid(cmd.OutOrStdout(), sched, entries, cellSize, viper.GetInt("columns"))
	return nil
}

// waitSettled blocks until every cell is Rendered or Errored.
func waitSettled(ctx context.Context, sched *grid.Scheduler) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		settled := true
		for _, st := range sched.States() {
			if st != grid.Rendered && st != grid.Errored {
				settled = false
				break
			}
		}
		if settled {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// printGrid lays finished cells out row-major, captions underneath.
func printGrid(w io.Writer, sched *grid.Scheduler, entries []source.Entry, size render.CellSize, columns int) {
	if columns < 1 {
		columns = 1
	}

	for start := 0; start < len(entries); start += columns {
		end := min(start+columns, len(entries))

		blocks := make([][]string, 0, end-start)
		for i := start; i < end; i++ {
			blocks = append(blocks, cellLines(sched, i, size))
		}

		for row := 0; row < size.Rows; row++ {
			for _, lines := range blocks {
				fmt.Fprint(w, lines[row], " ")
			}
			fmt.Fprintln(w)
		}
		for i := start; i < end; i++ {
			caption := render.Caption(entries[i].Name, size.Cols)
			fmt.Fprintf(w, "%-*s ", size.Cols, caption)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w)
	}
}

// cellLines pads a cell's content to exactly size.Rows lines of size.Cols
// visible columns so rows of cells line up.
func cellLines(sched *grid.Scheduler, i int, size render.CellSize) []string {
	blank := strings.Repeat(" ", size.Cols)
	out := make([]string, size.Rows)
	for r := range out {
		out[r] = blank
	}

	content := sched.Content(i)
	if content == nil {
		if err := sched.Err(i); err != nil {
			out[0] = fmt.Sprintf("%-*s", size.Cols, render.Caption("✗ "+err.Error(), size.Cols))
		}
		return out
	}

	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	for r, line := range lines {
		if r >= size.Rows {
			break
		}
		// Each half-block glyph occupies one column; pad narrow rasters.
		if pad := size.Cols - strings.Count(line, "▀"); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
		out[r] = line
	}
	return out
}
