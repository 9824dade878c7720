package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/snarg/juicer/internal/audio"
	"github.com/snarg/juicer/internal/transcribe"
)

type transcribeFlags struct {
	provider string
	offline  bool
	variant  string
	segments bool
	out      string
}

// runTranscribe sends one file through the pipeline directly, bypassing the
// queue. Cache and history behave as they do for server jobs.
func runTranscribe(ctx context.Context, opts *options, flags transcribeFlags, path string, stdout, stderr io.Writer) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	info := audio.Probe(content, "")
	if !info.IsAudio {
		return fmt.Errorf("%s is not an audio file (%s)", path, info.MediaType)
	}

	svc, err := opts.loadApp(ctx, stderr)
	if err != nil {
		return err
	}
	defer svc.Close()

	if flags.provider != "" {
		id, err := transcribe.ParseProviderID(flags.provider)
		if err != nil {
			return err
		}
		if err := svc.Credentials.Select(ctx, id); err != nil {
			return err
		}
	}
	if flags.offline {
		variant := flags.variant
		if variant == "" {
			variant = svc.Config.Local.Variant
		}
		if err := svc.Local.Initialize(ctx, variant); err != nil {
			return fmt.Errorf("load local model %s: %w", variant, err)
		}
		svc.Pipeline.SetOffline(true)
	}

	fmt.Fprintf(stderr, "transcribing %s (%s, %s)\n", filepath.Base(path), info.MediaType, humanize.Bytes(uint64(len(content))))
	res, err := svc.Pipeline.Transcribe(ctx, transcribe.NewSubmission(filepath.Base(path), info.MediaType, content))
	if err != nil {
		return err
	}

	w := stdout
	if flags.out != "" {
		f, err := os.Create(flags.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if opts.asJSON {
		return writeJSON(w, res)
	}
	if flags.segments {
		for _, s := range res.Segments {
			fmt.Fprintf(w, "[%s] %s\n", timestamp(s.Time), strings.TrimSpace(s.Text))
		}
		return nil
	}
	_, err = fmt.Fprintln(w, res.Text)
	return err
}

// timestamp formats seconds as mm:ss, or h:mm:ss past the hour.
func timestamp(sec float64) string {
	total := int(sec)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func NewTranscribeCommand(ctx context.Context, opts *options) *cobra.Command {
	var flags transcribeFlags
	cmd := &cobra.Command{
		Use:     "transcribe [file]",
		Aliases: []string{"t"},
		Example: "$ juicectl transcribe ./meeting.m4a --segments",
		Short:   "Transcribe an audio file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(ctx, opts, flags, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&flags.provider, "provider", "p", "", "select and remember the provider (openai, groq, huggingface)")
	cmd.Flags().BoolVar(&flags.offline, "offline", false, "use the local whisper.cpp model")
	cmd.Flags().StringVar(&flags.variant, "variant", "", "local model variant (default LOCAL_MODEL_VARIANT)")
	cmd.Flags().BoolVar(&flags.segments, "segments", false, "print timestamped segments")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "write the transcript to a file")
	return cmd
}
