package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	VectorBackendSupabase = "supabase"
	VectorBackendPostgres = "postgres"
	VectorBackendChromem  = "chromem"

	ConversationBackendDynamo = "dynamodb"
	ConversationBackendMemory = "memory"
)

type Config struct {
	Port    string
	GinMode string
	LogMode string

	OpenAIKey           string
	OpenAIBaseURL       string
	ChatModel           string
	CondenseModel       string
	ChatTemperature     float32
	CondenseTemperature float32
	GenerationTimeout   time.Duration
	CondenseTimeout     time.Duration

	RetrievalTopK     int
	RetrievalMinScore float64
	PromptMaxChars    int
	PromptVersion     string

	VectorBackend      string
	SupabaseURL        string
	SupabaseServiceKey string
	PostgresURI        string
	ChromemDir         string

	ConversationBackend string
	DynamoEndpoint      string
	DynamoRegion        string
	DynamoTable         string
	HistoryLimit        int

	RedisAddr          string
	RateLimitPerMinute int
	CORSOrigins        []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_MODE", "dev")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("CHAT_MODEL", "gpt-4o-mini")
	v.SetDefault("CONDENSE_MODEL", "gpt-4o-mini")
	// 回答は高めの温度で固定（同じ入力でも出力は変わる）
	v.SetDefault("CHAT_TEMPERATURE", 0.9)
	v.SetDefault("CONDENSE_TEMPERATURE", 0.2)
	v.SetDefault("GENERATION_TIMEOUT", "60s")
	v.SetDefault("CONDENSE_TIMEOUT", "15s")
	v.SetDefault("RETRIEVAL_TOP_K", 4)
	v.SetDefault("RETRIEVAL_MIN_SCORE", 0.75)
	v.SetDefault("PROMPT_MAX_CHARS", 8000)
	v.SetDefault("PROMPT_VERSION", "")
	v.SetDefault("VECTOR_BACKEND", VectorBackendSupabase)
	v.SetDefault("CHROMEM_DIR", "")
	v.SetDefault("CONVERSATION_BACKEND", ConversationBackendDynamo)
	v.SetDefault("DYNAMODB_ENDPOINT", "http://localhost:8000")
	v.SetDefault("DYNAMODB_REGION", "us-east-1")
	v.SetDefault("DYNAMODB_TABLE", "Conversations")
	v.SetDefault("HISTORY_LIMIT", 6)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 20)
	v.SetDefault("CORS_ORIGINS", "*")
}

// Load は.envと環境変数から設定を組み立てる
func Load() (*Config, error) {
	// .envは任意
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:    v.GetString("PORT"),
		GinMode: v.GetString("GIN_MODE"),
		LogMode: v.GetString("LOG_MODE"),

		OpenAIKey:           v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:       v.GetString("OPENAI_BASE_URL"),
		ChatModel:           v.GetString("CHAT_MODEL"),
		CondenseModel:       v.GetString("CONDENSE_MODEL"),
		ChatTemperature:     float32(v.GetFloat64("CHAT_TEMPERATURE")),
		CondenseTemperature: float32(v.GetFloat64("CONDENSE_TEMPERATURE")),
		GenerationTimeout:   v.GetDuration("GENERATION_TIMEOUT"),
		CondenseTimeout:     v.GetDuration("CONDENSE_TIMEOUT"),

		RetrievalTopK:     v.GetInt("RETRIEVAL_TOP_K"),
		RetrievalMinScore: v.GetFloat64("RETRIEVAL_MIN_SCORE"),
		PromptMaxChars:    v.GetInt("PROMPT_MAX_CHARS"),
		PromptVersion:     v.GetString("PROMPT_VERSION"),

		VectorBackend:      strings.ToLower(v.GetString("VECTOR_BACKEND")),
		SupabaseURL:        v.GetString("SUPABASE_URL"),
		SupabaseServiceKey: v.GetString("SUPABASE_SERVICE_KEY"),
		PostgresURI:        v.GetString("POSTGRES_URI"),
		ChromemDir:         v.GetString("CHROMEM_DIR"),

		ConversationBackend: strings.ToLower(v.GetString("CONVERSATION_BACKEND")),
		DynamoEndpoint:      v.GetString("DYNAMODB_ENDPOINT"),
		DynamoRegion:        v.GetString("DYNAMODB_REGION"),
		DynamoTable:         v.GetString("DYNAMODB_TABLE"),
		HistoryLimit:        v.GetInt("HISTORY_LIMIT"),

		RedisAddr:          v.GetString("REDIS_ADDR"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		CORSOrigins:        splitList(v.GetString("CORS_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.RetrievalTopK < 1 || c.RetrievalTopK > 10 {
		return errors.Errorf("RETRIEVAL_TOP_K must be between 1 and 10, got %d", c.RetrievalTopK)
	}
	if c.PromptMaxChars <= 0 {
		return errors.New("PROMPT_MAX_CHARS must be positive")
	}
	switch c.VectorBackend {
	case VectorBackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase backend")
		}
	case VectorBackendPostgres:
		if c.PostgresURI == "" {
			return errors.New("POSTGRES_URI is required for the postgres backend")
		}
	case VectorBackendChromem:
	default:
		return errors.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	switch c.ConversationBackend {
	case ConversationBackendDynamo, ConversationBackendMemory:
	default:
		return errors.Errorf("unknown CONVERSATION_BACKEND %q", c.ConversationBackend)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
