// leadflow 是线索生成编排服务的命令行入口：run 在本地执行一次运行，
// serve 启动 API 与任务处理器，submit 与 list 通过 API 提交和查看运行，token 签发 API 令牌。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"LeadFlow/internal/config"
	"LeadFlow/pkg/logger"
)

var version = "dev"

var (
	configPath string
	loadedCfg  *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "leadflow",
	Short: "Supervisor-routed lead generation pipeline",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return err
		}
		if err := logger.Init(cfg.Logging); err != nil {
			return fmt.Errorf("初始化日志失败: %w", err)
		}
		loadedCfg = cfg
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "配置文件路径 (YAML)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.Version = version
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
