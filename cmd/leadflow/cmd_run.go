package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"LeadFlow/internal/export"
	"LeadFlow/internal/graph"
	"LeadFlow/internal/pipeline"
	"LeadFlow/pkg/logger"
)

var (
	runInstructions string
	runOutput       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and write the leads workbook",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runInstructions, "instructions", defaultInstructionsFile, "指令文件路径，- 表示标准输入")
	runCmd.Flags().StringVarP(&runOutput, "out", "o", "", "导出的 xlsx 路径，默认写入 export.dir")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	instructions, err := readInstructions(runInstructions)
	if err != nil {
		return err
	}

	log := logger.Named("cli")
	runner, err := newRunner(loadedCfg, pipeline.WithObserver(func(runID string, step graph.Step) {
		log.Debug("步骤完成",
			slog.String("run_id", runID),
			slog.Int("step", step.Index),
			slog.String("node", string(step.Node)),
		)
	}))
	if err != nil {
		return err
	}

	result, runErr := runner.Run(cmd.Context(), instructions)
	if result == nil {
		return runErr
	}

	out := runOutput
	if out == "" {
		out = filepath.Join(loadedCfg.Export.Dir, export.DefaultFileName)
	}
	if err := export.SaveXLSX(out, result.State.Leads); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d steps, %d leads written to %s\n",
		result.RunID, result.Steps, len(result.State.Leads), out)
	if runErr != nil {
		// 中止的运行仍然导出已收集的部分线索。
		return fmt.Errorf("运行中止: %w", runErr)
	}
	return nil
}
