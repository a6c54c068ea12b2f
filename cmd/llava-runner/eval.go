package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vlmbench/llava-runner/pkg/dataset"
	"github.com/vlmbench/llava-runner/pkg/metrics"
	"github.com/vlmbench/llava-runner/pkg/vlm/llava"
)

func newEvalCommand() *cobra.Command {
	var (
		tsvPath     string
		outPath     string
		metricsPath string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "eval <dataset>",
		Short: "Evaluate a checkpoint over a benchmark TSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			datasetName := args[0]

			rows, err := dataset.LoadTSV(tsvPath)
			if err != nil {
				return err
			}
			if limit > 0 && limit < len(rows) {
				rows = rows[:limit]
			}

			adapter, runner, err := startAdapter(ctx)
			if err != nil {
				return err
			}
			defer runner.Close()

			out, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create results file: %w", err)
			}
			defer out.Close()
			writer := csv.NewWriter(out)
			writer.Comma = '\t'
			if err := writer.Write([]string{"index", "question", "prediction"}); err != nil {
				return err
			}

			recorder := metrics.NewRecorder()
			for i, row := range rows {
				if err := ctx.Err(); err != nil {
					return err
				}
				prompt, err := adapter.BuildPrompt(row, datasetName)
				if err != nil {
					return fmt.Errorf("row %s: %w", row.Index, err)
				}

				started := time.Now()
				answer, err := adapter.GeneratePrompt(ctx, prompt, datasetName)
				if err != nil {
					// Rows the model cannot consume are skipped, not fatal;
					// anything else aborts the run.
					if errors.Is(err, llava.ErrMultiImageUnsupported) {
						log.Warnf("Skipping row %s: %v", row.Index, err)
						recorder.RecordFailure(datasetName)
						continue
					}
					return fmt.Errorf("row %s: %w", row.Index, err)
				}
				recorder.RecordGeneration(datasetName, len(answer), time.Since(started))

				if err := writer.Write([]string{row.Index, row.Question, answer}); err != nil {
					return err
				}
				if (i+1)%25 == 0 {
					writer.Flush()
					log.Infof("Evaluated %d/%d rows", i+1, len(rows))
				}
			}
			writer.Flush()
			if err := writer.Error(); err != nil {
				return err
			}

			if metricsPath != "" {
				metricsFile, err := os.Create(metricsPath)
				if err != nil {
					return fmt.Errorf("create metrics file: %w", err)
				}
				defer metricsFile.Close()
				if err := recorder.WriteTo(metricsFile); err != nil {
					return err
				}
			}
			log.Infof("Wrote %s results to %s", datasetName, outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&tsvPath, "tsv", "", "benchmark TSV file (required)")
	cmd.Flags().StringVar(&outPath, "out", "results.tsv", "results output file")
	cmd.Flags().StringVar(&metricsPath, "metrics-out", "", "Prometheus textfile output")
	cmd.Flags().IntVar(&limit, "limit", 0, "evaluate at most this many rows")
	_ = cmd.MarkFlagRequired("tsv")
	addModelFlags(cmd)
	return cmd
}
