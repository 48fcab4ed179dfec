package main

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"LeadFlow/sdk/go/leadflow"
)

var (
	listServer   string
	listToken    string
	listLimit    int
	listOffset   int
	listStatuses []string
	listQuery    string
	listSince    time.Duration
	listOldest   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs known to a leadflow server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := leadflow.NewClient(listServer, nil)
		if err != nil {
			return err
		}
		client.SetToken(listToken)
		opts := leadflow.ListOptions{
			Limit:    listLimit,
			Offset:   listOffset,
			Statuses: listStatuses,
			Query:    listQuery,
			Oldest:   listOldest,
		}
		if listSince > 0 {
			opts.Since = time.Now().Add(-listSince)
		}
		runs, err := client.ListRuns(cmd.Context(), opts)
		if err != nil {
			return err
		}
		renderRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listServer, "server", "http://localhost:8080", "API 地址")
	listCmd.Flags().StringVar(&listToken, "token", os.Getenv("LEADFLOW_TOKEN"), "API Bearer 令牌")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "返回条数")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "跳过条数")
	listCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "按状态过滤，可重复或逗号分隔")
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "按 ID、指令或错误文本模糊匹配")
	listCmd.Flags().DurationVar(&listSince, "since", 0, "只显示最近这段时间内更新过的运行，例如 24h")
	listCmd.Flags().BoolVar(&listOldest, "oldest", false, "按更新时间升序排列")
}

// renderRuns 以表格输出运行列表，线索数只统计至少有一个字段的记录。
func renderRuns(w io.Writer, runs []leadflow.Run) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Status", "Attempts", "Leads", "Updated", "Error"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, run := range runs {
		table.Append([]string{
			run.ID,
			run.Status,
			strconv.Itoa(run.Attempts) + "/" + strconv.Itoa(run.MaxRetries),
			strconv.Itoa(filledLeads(run.Result)),
			time.Unix(run.UpdatedAt, 0).UTC().Format(time.RFC3339),
			truncate(run.ErrorCode, 32),
		})
	}
	table.Render()
}

func filledLeads(result *leadflow.RunResult) int {
	if result == nil {
		return 0
	}
	n := 0
	for _, lead := range result.Leads {
		if lead != (leadflow.Lead{}) {
			n++
		}
	}
	return n
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= limit {
		return s
	}
	return string([]rune(s)[:limit-1]) + "…"
}
