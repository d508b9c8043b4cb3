package main

import (
	"fmt"

	"github.com/dunamismax/flyimg/internal/pipeline"
	"github.com/spf13/cobra"
)

func newURLCommand(ctx *commandContext) *cobra.Command {
	var optionFlags []string

	cmd := &cobra.Command{
		Use:   "url SOURCE",
		Short: "Print the transform URL for a remote image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptionFlags(optionFlags)
			if err != nil {
				return err
			}
			optionsCfg, err := ctx.optionsConfig()
			if err != nil {
				return err
			}
			instance, err := ctx.instanceURL()
			if err != nil {
				return err
			}

			processor := pipeline.NewProcessor(pipeline.Config{Options: optionsCfg})
			url, err := processor.BuildURL(instance, args[0], opts, ctx.signer())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&optionFlags, "opt", nil, "Transform option as name=value (repeatable)")
	return cmd
}
