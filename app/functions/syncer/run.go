// SPDX-FileCopyrightText: Copyright (c) 2016-2025, CloudZero, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudzero/cloudzero-syncer/app/bus"
	"github.com/cloudzero/cloudzero-syncer/app/domain/processor"
	"github.com/cloudzero/cloudzero-syncer/app/domain/source"
	"github.com/cloudzero/cloudzero-syncer/app/types"
)

// ErrPartialFailure is returned by run --strict when some chunks failed.
var ErrPartialFailure = errors.New("job completed with failed chunks")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one input document and exit",
		Long: `Loads the work items from the input document, pushes them to the remote
endpoint in chunks and prints progress until the job finishes.

SIGINT or SIGTERM aborts the job. SIGUSR1 pauses it, SIGUSR2 resumes it.`,
		RunE: runJob,
	}
	cmd.Flags().StringP("input", "i", "", "Input document (overrides source.path)")
	cmd.Flags().Bool("strict", false, "Exit non-zero when any chunk failed")
	cmd.Flags().Bool("quiet", false, "Only print the final summary")
	cmd.Flags().Bool("no-history", false, "Do not record the run in the history database")
	return cmd
}

func runJob(cmd *cobra.Command, _ []string) error {
	a, ctx, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Ctx(ctx).Err(cerr).Msg("failed to release resources")
		}
	}()

	flags := cmd.Flags()
	strict, _ := flags.GetBool("strict")
	quiet, _ := flags.GetBool("quiet")
	noHistory, _ := flags.GetBool("no-history")
	input, _ := flags.GetString("input")
	if input == "" {
		input = a.settings.Source.Path
	}
	if input == "" {
		return errors.New("no input document, use --input or source.path")
	}

	loader, err := source.NewLoader(a.settings.Source)
	if err != nil {
		return err
	}
	batch, err := loader.LoadFile(ctx, input)
	if err != nil {
		return err
	}

	var store types.ReportStore
	if !noHistory {
		if store, err = a.reportStore(); err != nil {
			return err
		}
	}

	p, err := processor.New(a.settings.ProcessingConfig(), a.exec, processor.WithObserver(a.bus))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var sub *bus.Subscription
	printed := make(chan struct{})
	if quiet {
		close(printed)
	} else {
		sub = a.bus.Subscribe(
			types.EventJobStarted,
			types.EventChunkDone,
			types.EventChunkFailed,
			types.EventChunkRetry,
			types.EventJobPaused,
			types.EventJobResumed,
			types.EventJobAborted,
		)
		go func() {
			defer close(printed)
			printEvents(out, sub)
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go handleControlSignals(ctx, p)

	final, perr := p.Process(ctx, batch.Serials, batch.Records, processor.Callbacks{})
	if sub != nil {
		sub.Unsubscribe()
	}
	<-printed

	if store != nil {
		report := types.NewRunReport(final, types.SystemClock{}.GetCurrentTime())
		// the job context may be cancelled by now
		if err := store.Create(context.WithoutCancel(ctx), report); err != nil {
			log.Ctx(ctx).Err(err).Msg("failed to record the run")
		}
	}

	printSummary(out, final)

	switch {
	case perr != nil:
		return perr
	case strict && final.PartialFailure():
		return ErrPartialFailure
	}
	return nil
}

func handleControlSignals(ctx context.Context, p *processor.Processor) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if sig == syscall.SIGUSR1 {
				p.Pause()
			} else {
				p.Resume()
			}
		}
	}
}

func printEvents(out io.Writer, sub *bus.Subscription) {
	for ev := range sub.Events() {
		line := ev.Message
		if ev.Progress != nil {
			line = fmt.Sprintf("[%3d%%] %s", ev.Progress.Percentage, ev.Message)
		}
		fmt.Fprintln(out, line)
	}
}

func printSummary(out io.Writer, final types.Progress) {
	elapsed := time.Duration(0)
	if !final.StartTime.IsZero() {
		elapsed = time.Since(final.StartTime).Round(time.Millisecond)
	}
	fmt.Fprintf(out, "job %s %s: %d/%d records in %d chunks (%d%%) after %s\n",
		final.JobID, final.Status, final.ProcessedRecords, final.TotalRecords,
		final.TotalChunks, final.Percentage, elapsed)
	for _, msg := range final.Errors {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}
}
