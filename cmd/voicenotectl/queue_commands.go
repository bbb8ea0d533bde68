package main

import (
	"fmt"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/cuongbtq/voicenote-jobs/internal/supervisor"
	"github.com/spf13/cobra"
)

func newQueuesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show job counts for every queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.client().AllStats(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderStats([]namedStats{
				{name: domain.QueueTranscribe, stats: result.Transcribe},
				{name: domain.QueueSummarize, stats: result.Summarize},
			}, shouldColorize(out)))
			return nil
		},
	}
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or control a single queue",
	}

	queueCmd.AddCommand(&cobra.Command{
		Use:   "stats <name>",
		Short: "Show job counts for one queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.client().Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, result)
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderStats([]namedStats{{name: result.Queue, stats: result.Stats}}, shouldColorize(out)))
			return nil
		},
	})

	queueCmd.AddCommand(newControlCommand(ctx, "pause", "Stop workers from taking new jobs"))
	queueCmd.AddCommand(newControlCommand(ctx, "resume", "Let workers take jobs again"))
	queueCmd.AddCommand(newControlCommand(ctx, "clean", "Remove finished jobs past their retention"))

	return queueCmd
}

func newControlCommand(ctx *commandContext, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.client().Control(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			return printAction(cmd, ctx, result)
		},
	}
}

func printAction(cmd *cobra.Command, ctx *commandContext, result supervisor.ActionResult) error {
	if ctx.json {
		return writeJSON(cmd, result)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Message)
	return nil
}
