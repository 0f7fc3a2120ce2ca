package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CollectionConfig 定义了一个向量集合及其检索优先级。
// Priority 数值越小优先级越高，用于同分结果的二级排序。
type CollectionConfig struct {
	Name     string `yaml:"name"`     // 集合名称 (例如: "operational_instructions_384d")
	Priority int    `yaml:"priority"` // 检索优先级
}

// MilvusConfig 定义了 Milvus 数据库的连接和集合配置。
// 所有集合共享同一个固定的 Schema（仅包含 ID 与元数据，不存原文）。
type MilvusConfig struct {
	Address     string             `yaml:"address"`     // Milvus 服务地址
	Dim         int                `yaml:"dim"`         // 向量维度 (例如: 384)
	IndexType   string             `yaml:"indexType"`   // 索引类型 (例如: "IVF_FLAT", "HNSW")
	MetricType  string             `yaml:"metricType"`  // 相似度度量类型 (例如: "COSINE")
	Collections []CollectionConfig `yaml:"collections"` // 知识集合列表
	// ThreadCollection 是线程元数据的镜像集合，仅用于降级模式下的线程发现。
	ThreadCollection string `yaml:"threadCollection"`
}

// RedisConfig 定义了 Redis 缓存的连接配置。
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`  // 是否启用缓存（缓存不可用仅降级，不影响正确性）
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MySQLConfig 定义了 MySQL 数据库的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// KafkaConfig 定义了 Kafka 审计总线的连接配置。
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"` // 是否启用审计发布（不可用仅降级）
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
	Topic   string   `yaml:"topic"`   // 审计主题
}

// DatabaseConfigs 包含所有后端存储的配置。
type DatabaseConfigs struct {
	Milvus MilvusConfig `yaml:"milvus"` // Milvus 向量索引配置
	Redis  RedisConfig  `yaml:"redis"`  // Redis 缓存配置
	MySQL  MySQLConfig  `yaml:"mysql"`  // MySQL 数据库配置
	Kafka  KafkaConfig  `yaml:"kafka"`  // Kafka 审计总线配置
}

// GeminiConfig 包含了 Gemini 模型的配置。
type GeminiConfig struct {
	APIKey string `yaml:"apiKey"` // Gemini API 密钥
	Model  string `yaml:"model"`  // Gemini 模型名称
}

// OpenAIConfig 包含了 OpenAI 模型的配置。
type OpenAIConfig struct {
	APIKey string `yaml:"apiKey"` // OpenAI API 密钥
	Model  string `yaml:"model"`  // OpenAI 模型名称
}

// OllamaConfig 包含了 Ollama 本地模型的配置。
type OllamaConfig struct {
	BaseURL string `yaml:"baseURL"` // Ollama 服务地址
	Model   string `yaml:"model"`   // 模型名称
}

// LLMConfig 包含了不同LLM提供商的配置。
type LLMConfig struct {
	Provider string       `yaml:"provider"` // LLM提供商 (例如: "gemini", "openai")
	Gemini   GeminiConfig `yaml:"gemini"`   // Gemini 模型配置
	OpenAI   OpenAIConfig `yaml:"openai"`   // OpenAI 模型配置
}

// EmbeddingConfig 包含了不同Embedding提供商的配置。
type EmbeddingConfig struct {
	Provider string       `yaml:"provider"` // Embedding提供商 (例如: "gemini", "openai", "ollama")
	Gemini   GeminiConfig `yaml:"gemini"`   // Gemini 模型配置
	OpenAI   OpenAIConfig `yaml:"openai"`   // OpenAI 模型配置
	Ollama   OllamaConfig `yaml:"ollama"`   // Ollama 模型配置
}

// ConversationConfig 汇集了对话核心的可调常量。
type ConversationConfig struct {
	ReferenceWindow  int     `yaml:"referenceWindow"`  // 上下文引用表保留的最近实体数量 K
	RecentDocuments  int     `yaml:"recentDocuments"`  // 上下文快照保留的最近文档数量 N
	PersistRetries   int     `yaml:"persistRetries"`   // 乐观锁冲突的重试上限
	CacheTTL         string  `yaml:"cacheTTL"`         // Redis 线程缓存的 TTL (例如: "168h")
	TopK             int     `yaml:"topK"`             // 检索返回的最大结果数
	SimilarityFloor  float32 `yaml:"similarityFloor"`  // 相似度下限，低于该值的结果被丢弃
	CommandTimeout   string  `yaml:"commandTimeout"`   // 命令执行的请求超时 (例如: "30s")
	CommandsPath     string  `yaml:"commandsPath"`     // 命令模板与能力白名单文件路径
	CommandBaseURL   string  `yaml:"commandBaseURL"`   // 命令执行的目标 API 基础地址
	ActiveThreads    int     `yaml:"activeThreads"`    // 进程内活跃线程缓存的容量
	ReconcileEvery   string  `yaml:"reconcileEvery"`   // 向量补偿任务的运行间隔 (例如: "1m")
	ChunkSize        int     `yaml:"chunkSize"`        // 文档切分的块大小 (token)
	ChunkOverlap     int     `yaml:"chunkOverlap"`     // 相邻块的重叠大小 (token)
	DefaultWorkbench string  `yaml:"defaultWorkbench"` // 新线程的初始工作台
}

// CacheTTLDuration 解析缓存 TTL，解析失败时回退到 7 天。
func (c ConversationConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// CommandTimeoutDuration 解析命令超时，解析失败时回退到 30 秒。
func (c ConversationConfig) CommandTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CommandTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ReconcileInterval 解析补偿任务间隔，解析失败时回退到 1 分钟。
func (c ConversationConfig) ReconcileInterval() time.Duration {
	d, err := time.ParseDuration(c.ReconcileEvery)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// CircuitBreakerConfig 定义了命令执行 HTTP 客户端的熔断器配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// RateLimiterConfig 定义了聊天入口的限流配置。
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"`     // 每秒速率
	Capacity int     `yaml:"capacity"` // 桶容量
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
	Address     string `yaml:"address"`     // HTTP 监听地址 (例如: ":8080")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App          AppInfo            `yaml:"app"`          // 应用程序信息
	LLM          LLMConfig          `yaml:"llm"`          // LLM 配置部分
	Embedding    EmbeddingConfig    `yaml:"embedding"`    // Embedding 配置部分
	Logger       LoggerConfig       `yaml:"logger"`       // 日志记录器配置
	Databases    DatabaseConfigs    `yaml:"databases"`    // 后端存储配置
	Conversation ConversationConfig `yaml:"conversation"` // 对话核心配置
	Middleware   MiddlewareConfig   `yaml:"middleware"`   // 中间件配置
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取或解析失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults 为未设置的对话常量填充默认值。
func applyDefaults(cfg *AppConfig) {
	conv := &cfg.Conversation
	if conv.ReferenceWindow <= 0 {
		conv.ReferenceWindow = 20
	}
	if conv.RecentDocuments <= 0 {
		conv.RecentDocuments = 10
	}
	if conv.PersistRetries <= 0 {
		conv.PersistRetries = 3
	}
	if conv.TopK <= 0 {
		conv.TopK = 5
	}
	if conv.SimilarityFloor <= 0 {
		conv.SimilarityFloor = 0.5
	}
	if conv.ActiveThreads <= 0 {
		conv.ActiveThreads = 256
	}
	if conv.ChunkSize <= 0 {
		conv.ChunkSize = 400
	}
	if conv.ChunkOverlap < 0 {
		conv.ChunkOverlap = 0
	}
}
