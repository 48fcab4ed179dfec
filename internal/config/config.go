package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"LeadFlow/internal/auth"
	"LeadFlow/pkg/logger"
)

// Config 描述了 LeadFlow 在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Automation AutomationConfig `yaml:"automation"`
	Graph      GraphConfig      `yaml:"graph"`
	Storage    StorageConfig    `yaml:"storage"`
	TaskQueue  TaskQueueConfig  `yaml:"task_queue"`
	Export     ExportConfig     `yaml:"export"`
	Logging    logger.Config    `yaml:"logging"`
}

// ServerConfig 控制 API 服务的监听地址、认证与跨域。
type ServerConfig struct {
	Address string      `yaml:"address"`
	Auth    auth.Config `yaml:"auth"`
	CORS    CORSConfig  `yaml:"cors"`
}

// CORSConfig 列出允许跨域访问的来源，为空时不启用跨域。
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig 用于配置决策后端（大模型）的调用方式。
type LLMConfig struct {
	Provider       string             `yaml:"provider"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	OpenAI         OpenAIConfig       `yaml:"openai"`
	Python         PythonBridgeConfig `yaml:"python_bridge"`
}

// Timeout 返回单次决策调用的超时时间，0 表示不限制。
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OpenAIConfig 描述 Chat Completions 兼容接口的连接信息。
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`

	// Temperature 为空时使用客户端默认值。
	Temperature *float64 `yaml:"temperature"`
}

// ResolveAPIKey 优先使用显式配置的 key，否则读取环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `yaml:"python_executable"`
	ScriptPath       string `yaml:"script_path"`
	WorkingDir       string `yaml:"working_dir"`
}

// AutomationConfig 描述浏览器自动化后端。
type AutomationConfig struct {
	Driver             string         `yaml:"driver"`
	CallTimeoutSeconds int            `yaml:"call_timeout_seconds"`
	MCP                MCPConfig      `yaml:"mcp"`
	Chromedp           ChromedpConfig `yaml:"chromedp"`
}

// CallTimeout 返回单次工具调用的超时时间，0 表示不限制。
func (c AutomationConfig) CallTimeout() time.Duration {
	if c.CallTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// MCPConfig 描述 MCP 服务端（例如 Playwright MCP）的地址。
type MCPConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// ChromedpConfig 描述本地 Chrome 的启动参数。
type ChromedpConfig struct {
	Headless  bool   `yaml:"headless"`
	ExecPath  string `yaml:"exec_path"`
	UserAgent string `yaml:"user_agent"`
}

// GraphConfig 控制编排图的执行上限。
type GraphConfig struct {
	StepLimit        int `yaml:"step_limit"`
	WorkerIterations int `yaml:"worker_iterations"`
}

// StorageConfig 描述运行记录的持久化方式。
type StorageConfig struct {
	TaskStore TaskStoreConfig `yaml:"task_store"`
}

// TaskStoreConfig 支持 memory 与 mysql 两种驱动。
type TaskStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	Retries                int    `yaml:"retries"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// TaskQueueConfig 描述运行任务的投递队列。
type TaskQueueConfig struct {
	Driver   string         `yaml:"driver"`
	Worker   int            `yaml:"worker"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Address          string `yaml:"address"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ExportConfig 控制导出文件的目录。
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// Load 解析指定路径的 YAML（或 JSON）配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析配置内容，baseDir 用于展开相对路径。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolveDir(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if c.Automation.Driver == "" {
		c.Automation.Driver = "mcp"
	}
	if c.Automation.MCP.Endpoint == "" {
		c.Automation.MCP.Endpoint = "http://localhost:8931/mcp"
	}

	if c.Graph.StepLimit <= 0 {
		c.Graph.StepLimit = 1000
	}
	if c.Graph.WorkerIterations <= 0 {
		c.Graph.WorkerIterations = 25
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 1
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 1
	}

	c.Export.Dir = resolveDir(baseDir, c.Export.Dir, filepath.Join(baseDir, "exports"))
}

// Validate 检查驱动名称等枚举值是否受支持。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "python_bridge":
	default:
		return fmt.Errorf("未知的大模型 provider: %s", c.LLM.Provider)
	}
	switch c.Automation.Driver {
	case "mcp", "chromedp":
	default:
		return fmt.Errorf("未知的自动化驱动: %s", c.Automation.Driver)
	}
	switch c.Storage.TaskStore.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.TaskStore.Driver)
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	return nil
}

func resolveDir(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
