package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"LeadFlow/internal/automation"
	"LeadFlow/internal/config"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/llm/openai"
	"LeadFlow/internal/llm/pythonbridge"
	"LeadFlow/internal/pipeline"
	"LeadFlow/internal/task"
)

const defaultInstructionsFile = "overall_executional_steps.json"

func defaultConfigPath() string {
	if path := os.Getenv("LEADFLOW_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "leadflow.yaml")
}

// loadConfig 读取配置文件。未显式指定且默认文件不存在时使用默认配置。
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "", "openai":
		apiKey := cfg.LLM.OpenAI.ResolveAPIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Timeout:     cfg.LLM.Timeout(),
			Temperature: cfg.LLM.OpenAI.Temperature,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func newOpener(cfg *config.Config) (automation.Opener, error) {
	switch cfg.Automation.Driver {
	case "", "mcp":
		return &automation.MCPOpener{Endpoint: cfg.Automation.MCP.Endpoint}, nil
	case "chromedp":
		return &automation.ChromeOpener{
			Headless:  cfg.Automation.Chromedp.Headless,
			ExecPath:  cfg.Automation.Chromedp.ExecPath,
			UserAgent: cfg.Automation.Chromedp.UserAgent,
		}, nil
	default:
		return nil, fmt.Errorf("未知的自动化驱动: %s", cfg.Automation.Driver)
	}
}

func newRunner(cfg *config.Config, opts ...pipeline.Option) (*pipeline.Runner, error) {
	llmClient, err := newLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	opener, err := newOpener(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(pipeline.Config{
		LLM:              llmClient,
		Opener:           opener,
		StepLimit:        cfg.Graph.StepLimit,
		WorkerIterations: cfg.Graph.WorkerIterations,
		LLMTimeout:       cfg.LLM.Timeout(),
		ToolTimeout:      cfg.Automation.CallTimeout(),
	}, opts...)
}

func newStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(ctx, task.MySQLConfig{
			DSN:             cfg.Storage.TaskStore.DSN,
			MaxOpenConns:    cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.TaskStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.TaskStore.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
}

func newQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(1024), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
}

// readInstructions 读取指令文件，"-" 表示标准输入。
func readInstructions(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("读取指令失败: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("指令文件 %s 为空", path)
	}
	return text, nil
}
