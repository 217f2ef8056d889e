package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	DB     DBConfig
	AI     AIConfig
	Speech SpeechConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		DB:     DBConfig{Path: getEnvOrDefault("DB_PATH", "./var/data.db")},
		AI:     ai,
		Speech: loadSpeechConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// DBConfig 描述 SQLite 存储位置。
type DBConfig struct {
	Path string
}

// AIConfig 描述大模型相关配置。提供方走 DashScope 的 OpenAI 兼容模式。
type AIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	MaxContext  int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("缺少 DASHSCOPE_API_KEY 或 MODEL_NAME，请在 .env 或系统变量中设置")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	maxContext := 30
	if override, err := parseOptionalIntEnv("MAX_CONTEXT_MESSAGES"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		maxContext = *override
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY")),
		BaseURL:     getEnvOrDefault("DASH_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		Model:       getEnvOrDefault("MODEL_NAME", "qwen-plus"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		MaxContext:  maxContext,
	}, nil
}

// SpeechConfig 描述 ISI 流式语音合成的凭证与端点。
type SpeechConfig struct {
	Region    string
	AKID      string
	AKSecret  string
	AppKey    string
	WSURL     string
	TokenHost string
}

// Enabled 表示语音中继是否具备出站所需的全部凭证。
func (c SpeechConfig) Enabled() bool {
	return c.AppKey != "" && c.AKID != "" && c.AKSecret != ""
}

func loadSpeechConfig() SpeechConfig {
	return SpeechConfig{
		Region:    getEnvOrDefault("ALIYUN_REGION", "cn-shanghai"),
		AKID:      strings.TrimSpace(os.Getenv("ALIYUN_AK_ID")),
		AKSecret:  strings.TrimSpace(os.Getenv("ALIYUN_AK_SECRET")),
		AppKey:    strings.TrimSpace(os.Getenv("ISI_APPKEY")),
		WSURL:     getEnvOrDefault("ISI_WS_URL", "wss://nls-gateway.aliyuncs.com/ws/v1"),
		TokenHost: getEnvOrDefault("ISI_TOKEN_HOST", "nls-meta.cn-shanghai.aliyuncs.com"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
