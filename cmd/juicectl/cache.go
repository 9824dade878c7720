package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/snarg/juicer/internal/cache"
)

func runCacheStats(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	svc, err := opts.loadApp(ctx, stderr)
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Cache.Stats(ctx)
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(stdout, st)
	}
	printCacheStats(stdout, st)
	return nil
}

func printCacheStats(w io.Writer, st cache.Stats) {
	fmt.Fprintf(w, "entries:  %d of %d\n", st.Items, st.MaxItems)
	fmt.Fprintf(w, "max age:  %s\n", st.MaxAge)
	fmt.Fprintf(w, "audio:    %s\n", humanize.Bytes(uint64(st.Bytes)))
	if st.Oldest != nil {
		fmt.Fprintf(w, "oldest:   %s\n", humanize.RelTime(*st.Oldest, time.Now(), "ago", "from now"))
	}
	if st.Newest != nil {
		fmt.Fprintf(w, "newest:   %s\n", humanize.RelTime(*st.Newest, time.Now(), "ago", "from now"))
	}
}

// runCacheDrop runs prune or clear and reports how many entries went.
func runCacheDrop(ctx context.Context, opts *options, all bool, stdout, stderr io.Writer) error {
	svc, err := opts.loadApp(ctx, stderr)
	if err != nil {
		return err
	}
	defer svc.Close()

	var n int
	if all {
		n, err = svc.Cache.Clear(ctx)
	} else {
		n, err = svc.Cache.Prune(ctx)
	}
	if err != nil {
		return err
	}
	if opts.asJSON {
		return writeJSON(stdout, map[string]int{"removed": n})
	}
	fmt.Fprintf(stdout, "removed %d cache %s\n", n, pluralEntries(n))
	return nil
}

func pluralEntries(n int) string {
	if n == 1 {
		return "entry"
	}
	return "entries"
}

func NewCacheCommand(ctx context.Context, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and trim the transcription cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache size and age bounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheDrop(ctx, opts, false, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheDrop(ctx, opts, true, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	})
	return cmd
}
