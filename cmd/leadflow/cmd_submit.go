package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"LeadFlow/sdk/go/leadflow"
)

var (
	submitServer       string
	submitToken        string
	submitInstructions string
	submitID           string
	submitWait         bool
	submitInterval     time.Duration
	submitOutput       string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a run to a leadflow server",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:8080", "API 地址")
	submitCmd.Flags().StringVar(&submitToken, "token", os.Getenv("LEADFLOW_TOKEN"), "API Bearer 令牌")
	submitCmd.Flags().StringVar(&submitInstructions, "instructions", defaultInstructionsFile, "指令文件路径，- 表示标准输入")
	submitCmd.Flags().StringVar(&submitID, "id", "", "可选的运行 ID，重复提交同一 ID 不会重复执行")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "等待运行结束")
	submitCmd.Flags().DurationVar(&submitInterval, "interval", 2*time.Second, "等待时的轮询间隔")
	submitCmd.Flags().StringVarP(&submitOutput, "out", "o", "", "运行结束后下载线索 xlsx 到该路径（需配合 --wait）")
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	instructions, err := readInstructions(submitInstructions)
	if err != nil {
		return err
	}
	client, err := leadflow.NewClient(submitServer, nil)
	if err != nil {
		return err
	}
	client.SetToken(submitToken)

	ctx := cmd.Context()
	run, err := client.SubmitRun(ctx, leadflow.RunSubmission{ID: submitID, Instructions: instructions})
	if err != nil {
		return err
	}
	if submitWait {
		if run, err = client.WaitRun(ctx, run.ID, submitInterval); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return err
	}

	if submitOutput == "" || run.Result == nil {
		return nil
	}
	f, err := os.Create(submitOutput)
	if err != nil {
		return fmt.Errorf("创建导出文件失败: %w", err)
	}
	defer f.Close()
	return client.DownloadLeads(ctx, run.ID, f)
}
