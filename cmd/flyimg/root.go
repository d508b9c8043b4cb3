package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "flyimg",
		Short:         "Build Flyimg URLs and fetch transformed images",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.instanceFlag, "instance", "", "Flyimg instance URL (default $FLYIMG_URL)")
	flags.StringVar(&ctx.optionsFileFlag, "options-file", "", "YAML file with options_separator, options_keys and default_options")
	flags.StringVar(&ctx.secretFlag, "secret", "", "Secret used to sign URLs (default $FLYIMG_SIGNING_SECRET)")
	flags.DurationVar(&ctx.timeoutFlag, "timeout", 0, "HTTP timeout for instance requests")

	rootCmd.AddCommand(newURLCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newKeysCommand(ctx))

	return rootCmd
}
