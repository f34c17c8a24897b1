package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Ark        ArkConfig        `mapstructure:"ark"`
	Qwen       QwenConfig       `mapstructure:"qwen"`
	Models     ModelsConfig     `mapstructure:"models"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
	Session    SessionConfig    `mapstructure:"session"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
}

// AggregatorConfig points at an OpenAI-compatible model aggregator (OpenRouter by default).
type AggregatorConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url" validate:"required,url"`
	DefaultModel string        `mapstructure:"default_model" validate:"required"`
	SiteURL      string        `mapstructure:"site_url"`
	SiteName     string        `mapstructure:"site_name"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type QwenConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	TopP        float32       `mapstructure:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ModelsConfig struct {
	MultiDefault []string `mapstructure:"multi_default"`
	Comparison   []string `mapstructure:"comparison" validate:"omitempty,len=3"`
	Judge        string   `mapstructure:"judge" validate:"required_with=Comparison"`
}

type AgentConfig struct {
	SystemPrompt       string `mapstructure:"system_prompt"`
	JudgePrompt        string `mapstructure:"judge_prompt"`
	MaxHistoryMessages int    `mapstructure:"max_history_messages" validate:"min=0"`
	MaxSteps           int    `mapstructure:"max_steps" validate:"min=1"`
	EnableTools        bool   `mapstructure:"enable_tools"`

	// ToolTimeout bounds a single tool invocation; zero disables the bound.
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
}

// StreamConfig controls the producer-side pacing of text deltas.
type StreamConfig struct {
	WordChunking bool          `mapstructure:"word_chunking"`
	ChunkDelay   time.Duration `mapstructure:"chunk_delay"`
}

type ToolsConfig struct {
	Calendar GoogleToolConfig  `mapstructure:"calendar"`
	Email    GoogleToolConfig  `mapstructure:"email"`
	MCP      []MCPServerConfig `mapstructure:"mcp" validate:"dive"`
}

type GoogleToolConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AccessToken string `mapstructure:"access_token"`
	Endpoint    string `mapstructure:"endpoint"`
	CalendarID  string `mapstructure:"calendar_id"`
}

type MCPServerConfig struct {
	Name      string        `mapstructure:"name" validate:"required"`
	Transport string        `mapstructure:"transport" validate:"oneof=sse stdio"`
	URL       string        `mapstructure:"url" validate:"required_if=Transport sse"`
	Command   string        `mapstructure:"command" validate:"required_if=Transport stdio"`
	Args      []string      `mapstructure:"args"`
	Env       []string      `mapstructure:"env"`
	Tools     []string      `mapstructure:"tools"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type" validate:"oneof=memory disk sqlite postgres"`
	DataDir   string `mapstructure:"data_dir" validate:"required_if=Type disk"`
	DSN       string `mapstructure:"dsn" validate:"required_if=Type sqlite,required_if=Type postgres"`
	CacheSize int    `mapstructure:"cache_size"`
}

var cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.stream_timeout", 25*time.Minute)

	v.SetDefault("aggregator.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("aggregator.default_model", "openai/gpt-4o-mini")
	v.SetDefault("aggregator.timeout", 120*time.Second)

	v.SetDefault("ark.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("qwen.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("qwen.max_tokens", 2048)
	v.SetDefault("qwen.temperature", 0.7)
	v.SetDefault("qwen.top_p", 0.9)
	v.SetDefault("qwen.timeout", 120*time.Second)

	v.SetDefault("models.multi_default", []string{"openai/gpt-4o-mini", "anthropic/claude-3.5-haiku"})
	v.SetDefault("models.comparison", []string{"openai/gpt-4o-mini", "anthropic/claude-3.5-haiku", "google/gemini-2.0-flash-001"})
	v.SetDefault("models.judge", "openai/gpt-4o")

	v.SetDefault("agent.system_prompt", "You are a helpful assistant. Use the available tools when they help answer the user.")
	v.SetDefault("agent.judge_prompt", "You are judging three candidate answers to the same user prompt. Pick the best one.")
	v.SetDefault("agent.max_history_messages", 20)
	v.SetDefault("agent.max_steps", 5)
	v.SetDefault("agent.enable_tools", true)
	v.SetDefault("agent.tool_timeout", 60*time.Second)

	v.SetDefault("stream.word_chunking", true)
	v.SetDefault("stream.chunk_delay", 10*time.Millisecond)

	v.SetDefault("tools.calendar.calendar_id", "primary")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.exposed_headers", []string{"X-Chat-Id"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("session.ttl", 30*24*time.Hour)
	v.SetDefault("session.cleanup_interval", time.Hour)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)
}

// Load reads the YAML file at configPath (optional when empty or missing) and
// applies CHAT_* environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); !os.IsNotExist(statErr) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Fall back to the provider-specific variables when the file leaves keys empty.
	if c.Aggregator.APIKey == "" {
		c.Aggregator.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if c.Ark.APIKey == "" {
		c.Ark.APIKey = os.Getenv("ARK_API_KEY")
	}
	if c.Qwen.APIKey == "" {
		c.Qwen.APIKey = os.Getenv("DASHSCOPE_API_KEY")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg = c
	return c, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func Get() *Config {
	return cfg
}
