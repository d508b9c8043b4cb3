package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKeysCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List option short codes and their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			optionsCfg, err := ctx.optionsConfig()
			if err != nil {
				return err
			}

			pairs := optionsCfg.Keys.Pairs()
			rows := make([][]string, 0, len(pairs))
			for _, pair := range pairs {
				def := ""
				if value, ok := optionsCfg.Defaults.Get(pair.Long); ok && value != nil {
					def = fmt.Sprint(value)
				}
				rows = append(rows, []string{pair.Short, pair.Long, def})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Short", "Option", "Default"}, rows))
			fmt.Fprintf(cmd.OutOrStdout(), "separator %q\n", optionsCfg.Separator)
			return nil
		},
	}
}
