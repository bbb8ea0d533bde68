package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

type commandContext struct {
	server  string
	token   string
	json    bool
	timeout time.Duration
}

func (c *commandContext) client() *adminClient {
	return newAdminClient(c.server, c.token, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "voicenotectl",
		Short:         "Inspect and control voice-note job queues",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	serverDefault := os.Getenv("VOICENOTE_API_URL")
	if serverDefault == "" {
		serverDefault = defaultServerURL
	}

	rootCmd.PersistentFlags().StringVar(&ctx.server, "server", serverDefault, "Base URL of the api service")
	rootCmd.PersistentFlags().StringVar(&ctx.token, "token", os.Getenv("ADMIN_TOKEN"), "Admin bearer token")
	rootCmd.PersistentFlags().BoolVar(&ctx.json, "json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(newQueuesCommand(ctx))
	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newProcessCommand(ctx))

	return rootCmd
}
