package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGenerateCommand() *cobra.Command {
	var imagePath, question string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one generation for an image and a question",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			adapter, runner, err := startAdapter(ctx)
			if err != nil {
				return err
			}
			defer runner.Close()

			answer, err := adapter.Generate(ctx, imagePath, question, "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "image file (required)")
	cmd.Flags().StringVar(&question, "question", "", "question text (required)")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("question")
	addModelFlags(cmd)
	return cmd
}
