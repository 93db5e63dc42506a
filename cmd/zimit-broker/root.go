package main

import "github.com/spf13/cobra"

// newRootCommand creates the zimit-broker command tree.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zimit-broker",
		Short: "Zimit capture request broker",
		Long: `Zimit broker admits website capture requests, creates the matching
Zimfarm tasks and mails requesters when their ZIM file is ready.

Configuration is read from config.yaml and ZIMIT_* environment variables.`,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newIdentityCommand())

	return cmd
}
