package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vlmbench/llava-runner/pkg/vlm/templates"
)

func newTemplatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List known instruction templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range templates.Names() {
				template, err := templates.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%q\n", name, template.Instruction)
			}
			return nil
		},
	}
}
