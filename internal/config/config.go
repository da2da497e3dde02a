package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultUserAgent is the browser User-Agent sent to third-party subtitle sites.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ProviderConfig holds the per-source settings shared by every adapter.
type ProviderConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	CacheTTL string `mapstructure:"cache_ttl"` // Go duration string like "5m"
}

type Config struct {
	ProxyConnectionString string `mapstructure:"proxy_connection_string"`
	ClientTimeout         string `mapstructure:"client_timeout"` // Go duration string like "15s"
	RetryAttempts         int    `mapstructure:"retry_attempts"`
	UserAgent             string `mapstructure:"user_agent"`
	LogLevel              string `mapstructure:"log_level"`
	Server                struct {
		Port    int    `mapstructure:"port"`
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	GRPC struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Browser struct {
		Enabled           bool   `mapstructure:"enabled"`
		ExecPath          string `mapstructure:"exec_path"`
		Headless          bool   `mapstructure:"headless"`
		NavigationTimeout string `mapstructure:"navigation_timeout"`
		PollAttempts      int    `mapstructure:"poll_attempts"`
		PollInterval      string `mapstructure:"poll_interval"`
	} `mapstructure:"browser"`
	Cache struct {
		Provider      string `mapstructure:"provider"` // "memory" or "redis"
		Size          int    `mapstructure:"size"`     // Maximum number of entries per cache group
		TTL           string `mapstructure:"ttl"`      // Go duration string like "10m"
		RedisAddress  string `mapstructure:"redis_address"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
	} `mapstructure:"cache"`
	FeedCache struct {
		Provider string `mapstructure:"provider"`
		TTL      string `mapstructure:"ttl"`
	} `mapstructure:"feed_cache"`
	Aggregator struct {
		MinQueryLength int      `mapstructure:"min_query_length"`
		PerSourceLimit int      `mapstructure:"per_source_limit"`
		ChunkSize      int      `mapstructure:"chunk_size"`
		Priority       []string `mapstructure:"priority"`
	} `mapstructure:"aggregator"`
	Download struct {
		TempDir string `mapstructure:"temp_dir"`
	} `mapstructure:"download"`
	Sentry struct {
		DSN         string `mapstructure:"dsn"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"sentry"`
	Providers struct {
		OpenSubtitles struct {
			ProviderConfig `mapstructure:",squash"`
			APIKey         string `mapstructure:"api_key"`
		} `mapstructure:"opensubtitles"`
		TVSubtitles ProviderConfig `mapstructure:"tvsubtitles"`
		Podnapisi   ProviderConfig `mapstructure:"podnapisi"`
		Addic7ed    struct {
			ProviderConfig `mapstructure:",squash"`
			UseBrowser     bool `mapstructure:"use_browser"`
			CacheTTLMs     int  `mapstructure:"cache_ttl_ms"`
		} `mapstructure:"addic7ed"`
		YIFY     ProviderConfig `mapstructure:"yify"`
		BSPlayer ProviderConfig `mapstructure:"bsplayer"`
		SubDB    ProviderConfig `mapstructure:"subdb"`
	} `mapstructure:"providers"`
}

var (
	globalConfig *Config
	logger       zerolog.Logger
)

func init() {
	logger = zerolog.New(zerolog.ConsoleWriter{
		Out:     os.Stdout,
		NoColor: false,
	}).With().Timestamp().Logger()

	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	config, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	level := zerolog.InfoLevel
	if config.LogLevel != "" {
		if parsedLevel, err := zerolog.ParseLevel(config.LogLevel); err == nil {
			level = parsedLevel
		} else {
			logger.Warn().Str("invalid_level", config.LogLevel).Msg("Invalid log level, using default 'info'")
		}
	}

	zerolog.SetGlobalLevel(level)
	logger = logger.Level(level)

	logger.Info().Str("level", level.String()).Msg("Logging configured")
	globalConfig = config
	logger.Info().Msg("Configuration loaded successfully")
}

// legacyEnv maps config keys to the environment variable names the service
// historically used, so existing deployments keep working without the APP_ prefix.
var legacyEnv = map[string]string{
	"log_level":                        "LOG_LEVEL",
	"providers.opensubtitles.api_key":  "OPENSUBTITLES_API_KEY",
	"providers.opensubtitles.username": "OPENSUBTITLES_USERNAME",
	"providers.opensubtitles.password": "OPENSUBTITLES_PASSWORD",
	"providers.podnapisi.username":     "PODNAPISI_USER",
	"providers.podnapisi.password":     "PODNAPISI_PASS",
	"providers.addic7ed.username":      "ADDIC7ED_USER",
	"providers.addic7ed.password":      "ADDIC7ED_PASS",
	"providers.addic7ed.cache_ttl_ms":  "ADDIC7ED_CACHE_TTL_MS",
	"providers.addic7ed.use_browser":   "USE_PUPPETEER",
	"sentry.dsn":                       "SENTRY_DSN",
	"cache.redis_address":              "REDIS_ADDRESS",
}

func setDefaults() {
	viper.SetDefault("client_timeout", "15s")
	viper.SetDefault("retry_attempts", 3)
	viper.SetDefault("server.port", 5000)
	viper.SetDefault("server.address", "0.0.0.0")
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("grpc.port", 50051)
	viper.SetDefault("browser.enabled", true)
	viper.SetDefault("browser.headless", true)
	viper.SetDefault("browser.navigation_timeout", "60s")
	viper.SetDefault("browser.poll_attempts", 40)
	viper.SetDefault("browser.poll_interval", "500ms")
	viper.SetDefault("cache.provider", "memory")
	viper.SetDefault("cache.size", 500)
	viper.SetDefault("cache.ttl", "10m")
	viper.SetDefault("feed_cache.provider", "memory")
	viper.SetDefault("feed_cache.ttl", "168h")
	viper.SetDefault("aggregator.min_query_length", 3)
	viper.SetDefault("aggregator.per_source_limit", 10)
	viper.SetDefault("aggregator.chunk_size", 10)
	viper.SetDefault("aggregator.priority", []string{"TVSubtitles"})

	for _, name := range []string{"opensubtitles", "tvsubtitles", "podnapisi", "addic7ed", "yify", "bsplayer", "subdb"} {
		viper.SetDefault("providers."+name+".enabled", true)
		viper.SetDefault("providers."+name+".cache_ttl", "5m")
	}
	viper.SetDefault("providers.opensubtitles.base_url", "https://api.opensubtitles.com/api/v1")
	viper.SetDefault("providers.tvsubtitles.base_url", "https://www.tvsubtitles.net")
	viper.SetDefault("providers.podnapisi.base_url", "https://www.podnapisi.net")
	viper.SetDefault("providers.addic7ed.base_url", "https://www.addic7ed.com")
	viper.SetDefault("providers.yify.base_url", "https://yifysubtitles.ch")
	viper.SetDefault("providers.bsplayer.base_url", "https://bsplayer-subtitles.com")
	viper.SetDefault("providers.subdb.base_url", "https://api.thesubdb.com")
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, env := range legacyEnv {
		_ = viper.BindEnv(key, "APP_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env)
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Download.TempDir == "" {
		config.Download.TempDir = os.TempDir()
	}

	return &config, nil
}

func GetConfig() *Config {
	return globalConfig
}

func GetUserAgent() string {
	if globalConfig != nil && globalConfig.UserAgent != "" {
		return globalConfig.UserAgent
	}

	return DefaultUserAgent
}

func GetLogger() zerolog.Logger {
	return logger
}

// ParseDuration parses a Go duration string, logging and returning def when the
// value is empty or malformed.
func ParseDuration(field, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn().Err(err).Str("field", field).Str("value", value).Dur("default", def).Msg("Invalid duration, using default")
		return def
	}
	return d
}
