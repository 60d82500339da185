package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/engiflow/engiflow-chat/pkg/config"
)

type Config struct {
	API     APIConfig
	Push    PushConfig
	Chat    ChatConfig
	Search  SearchConfig
	Uploads UploadConfig
	Log     LogConfig
}

type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Timeout time.Duration
}

type PushConfig struct {
	URL              string        `mapstructure:"url"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	ReconnectBase    time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
	ReconnectRetries int           `mapstructure:"reconnect_retries"`
}

type ChatConfig struct {
	PageSize   int           `mapstructure:"page_size"`
	TypingIdle time.Duration `mapstructure:"typing_idle"`
	TypingTTL  time.Duration `mapstructure:"typing_ttl"`
}

type SearchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	PageSize int           `mapstructure:"page_size"`
}

type UploadConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("api.base_url", "https://api.engiflow.dev/api")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("push.url", "wss://api.engiflow.dev/socket")
	v.SetDefault("push.ping_interval", "30s")
	v.SetDefault("push.pong_wait", "60s")
	v.SetDefault("push.write_wait", "10s")
	v.SetDefault("push.max_message_size", 65536)
	v.SetDefault("push.reconnect_base", "1s")
	v.SetDefault("push.reconnect_max", "30s")
	v.SetDefault("push.reconnect_retries", 10)
	v.SetDefault("chat.page_size", 20)
	v.SetDefault("chat.typing_idle", "1s")
	v.SetDefault("chat.typing_ttl", "7s")
	v.SetDefault("search.debounce", "500ms")
	v.SetDefault("search.page_size", 20)
	v.SetDefault("uploads.max_file_size", 50*1024*1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("api.base_url", "ENGIFLOW_API_URL")
	v.BindEnv("api.token", "ENGIFLOW_TOKEN")
	v.BindEnv("push.url", "ENGIFLOW_SOCKET_URL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.API.Timeout = parseDuration(v, "api.timeout", 30*time.Second)
	cfg.Push.PingInterval = parseDuration(v, "push.ping_interval", 30*time.Second)
	cfg.Push.PongWait = parseDuration(v, "push.pong_wait", 60*time.Second)
	cfg.Push.WriteWait = parseDuration(v, "push.write_wait", 10*time.Second)
	cfg.Push.ReconnectBase = parseDuration(v, "push.reconnect_base", time.Second)
	cfg.Push.ReconnectMax = parseDuration(v, "push.reconnect_max", 30*time.Second)
	cfg.Chat.TypingIdle = parseDuration(v, "chat.typing_idle", time.Second)
	cfg.Chat.TypingTTL = parseDuration(v, "chat.typing_ttl", 7*time.Second)
	cfg.Search.Debounce = parseDuration(v, "search.debounce", 500*time.Millisecond)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
