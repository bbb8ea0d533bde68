package main

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/voicenote-jobs/internal/api/dto"
	"github.com/spf13/cobra"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var mediaRef string
	var language string

	cmd := &cobra.Command{
		Use:   "process <noteId>",
		Short: "Submit a note for transcription and summarization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(mediaRef) == "" {
				return fmt.Errorf("--media-ref is required")
			}

			result, err := ctx.client().Process(cmd.Context(), args[0], dto.ProcessNoteRequest{
				MediaRef: mediaRef,
				Language: language,
			})
			if err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, result)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Queued note %s as job %s on %s\n", result.NoteID, result.JobID, result.Queue)
			return nil
		},
	}

	cmd.Flags().StringVar(&mediaRef, "media-ref", "", "Reference to the uploaded audio")
	cmd.Flags().StringVar(&language, "language", "", "Spoken language hint (ISO 639-1)")

	return cmd
}
