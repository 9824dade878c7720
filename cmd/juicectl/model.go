package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/snarg/juicer/internal/events"
	"github.com/snarg/juicer/internal/localmodel"
)

type modelReport struct {
	Status    localmodel.Status      `json:"status"`
	Supported bool                   `json:"supported"`
	Models    []localmodel.ModelInfo `json:"models"`
}

func runModelStatus(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	svc, err := opts.loadApp(ctx, stderr)
	if err != nil {
		return err
	}
	defer svc.Close()

	report := modelReport{
		Status:    svc.Local.Status(),
		Supported: svc.Local.CheckSupport(),
		Models:    svc.Local.Models(),
	}
	if opts.asJSON {
		return writeJSON(stdout, report)
	}
	printModels(stdout, report)
	return nil
}

func printModels(w io.Writer, r modelReport) {
	fmt.Fprintf(w, "runtime supported: %t\n\n", r.Supported)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tNAME\tSIZE\tDOWNLOADED")
	for _, m := range r.Models {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", m.ID, m.Name, m.SizeLabel, m.Downloaded)
	}
	tw.Flush()
}

// runModelDownload fetches and verifies a variant, printing progress in
// ten percent steps.
func runModelDownload(ctx context.Context, opts *options, variant string, stdout, stderr io.Writer) error {
	if _, err := localmodel.Lookup(variant); err != nil {
		return err
	}
	svc, err := opts.loadApp(ctx, stderr)
	if err != nil {
		return err
	}
	defer svc.Close()

	ch, cancel := svc.Events.Subscribe(events.Filter{Types: []string{events.TypeModel}})
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		lastStep := -1
		for ev := range ch {
			var st localmodel.Status
			if err := json.Unmarshal(ev.Data, &st); err != nil || st.State != localmodel.StateDownloading {
				continue
			}
			if step := int(st.Progress) / 10; step > lastStep {
				lastStep = step
				fmt.Fprintf(stderr, "downloading %s: %3.0f%% (%s of %s)\n", variant, st.Progress,
					humanize.Bytes(uint64(st.Downloaded)), humanize.Bytes(uint64(st.Total)))
			}
		}
	}()

	err = svc.Local.Initialize(ctx, variant)
	cancel()
	<-done
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "model %s ready\n", variant)
	return nil
}

func runModelDelete(ctx context.Context, opts *options, variant string, stdout, stderr io.Writer) error {
	svc, err := opts.loadApp(ctx, stderr)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Local.Delete(variant); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "model %s deleted\n", variant)
	return nil
}

func NewModelCommand(ctx context.Context, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage local whisper.cpp models",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the model catalog and runtime support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelStatus(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "download [variant]",
		Example: "$ juicectl model download base.en",
		Short:   "Download and verify a model variant",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelDownload(ctx, opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete [variant]",
		Short: "Remove a downloaded model variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModelDelete(ctx, opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	})
	return cmd
}
