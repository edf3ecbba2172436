package main

import (
	"context"
	"log/slog"
	"sort"

	"github.com/okaneo/gridview/internal/config"
	"github.com/okaneo/gridview/internal/source"
)

// collectEntries resolves the command-line sources and gathers the resulting
// entries into one sorted slice. Invalid sources are logged and skipped; the
// result is empty only when nothing at all resolved.
func collectEntries(ctx context.Context, cfg config.Config, args []string) []source.Entry {
	sources := make([]source.Source, 0, len(args))
	for _, raw := range args {
		src, err := source.Parse(raw)
		if err != nil {
			slog.Warn("Skipping invalid source", "source", raw, "error", err)
			continue
		}
		sources = append(sources, src)
	}

	scanner := &source.Scanner{
		Filter: source.Filter{
			ShowHidden:     cfg.ShowHidden,
			FollowSymlinks: cfg.FollowSymlinks,
		},
		Checkers:  cfg.Checkers,
		Recursive: cfg.Recursive,
		MaxDepth:  cfg.MaxDepth,
	}

	entryCh, errCh := scanner.Scan(ctx, sources)
	go func() {
		for serr := range errCh {
			slog.Warn("Source error", "source", serr.Source.Raw, "error", serr.Err)
		}
	}()

	var entries []source.Entry
	for ent := range entryCh {
		entries = append(entries, ent)
	}

	// Concurrent directory descent interleaves arbitrarily; sort for a
	// stable grid order across runs.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}
