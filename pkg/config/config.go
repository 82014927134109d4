package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Path           string `mapstructure:"PATH"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Cache struct {
		Backend        string        `mapstructure:"BACKEND"`
		UserTTL        time.Duration `mapstructure:"USER_TTL"`
		StatsTTL       time.Duration `mapstructure:"STATS_TTL"`
		LeaderboardTTL time.Duration `mapstructure:"LEADERBOARD_TTL"`
		RankTTL        time.Duration `mapstructure:"RANK_TTL"`
		AdminTTL       time.Duration `mapstructure:"ADMIN_TTL"`
	} `mapstructure:"CACHE"`
	Score struct {
		WriteBackBuffer int `mapstructure:"WRITE_BACK_BUFFER"`
	} `mapstructure:"SCORE"`
	Reward struct {
		ScheduleEnabled bool `mapstructure:"SCHEDULE_ENABLED"`
		Hour            int  `mapstructure:"HOUR"`
	} `mapstructure:"REWARD"`
	Broadcast struct {
		Queue         string        `mapstructure:"QUEUE"`
		PageSize      int           `mapstructure:"PAGE_SIZE"`
		Interval      time.Duration `mapstructure:"INTERVAL"`
		ProgressEvery int           `mapstructure:"PROGRESS_EVERY"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"BROADCAST"`
	Telegram struct {
		BotToken string        `mapstructure:"BOT_TOKEN"`
		APIURL   string        `mapstructure:"API_URL"`
		Timeout  time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"TELEGRAM"`
	Otel struct {
		Endpoint    string  `mapstructure:"ENDPOINT"`
		Insecure    bool    `mapstructure:"INSECURE"`
		SampleRatio float64 `mapstructure:"SAMPLE_RATIO"`
	} `mapstructure:"OTEL"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	AdminIDs []string `mapstructure:"ADMIN_IDS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "cloudbot")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 10*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.PATH", "cloudbot.db")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 5*time.Minute)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("CACHE.BACKEND", "memory")
	v.SetDefault("CACHE.USER_TTL", 5*time.Minute)
	v.SetDefault("CACHE.STATS_TTL", 2*time.Minute)
	v.SetDefault("CACHE.LEADERBOARD_TTL", time.Minute)
	v.SetDefault("CACHE.RANK_TTL", time.Minute)
	v.SetDefault("CACHE.ADMIN_TTL", time.Minute)
	v.SetDefault("SCORE.WRITE_BACK_BUFFER", 1024)
	v.SetDefault("REWARD.SCHEDULE_ENABLED", true)
	v.SetDefault("REWARD.HOUR", 0)
	v.SetDefault("BROADCAST.QUEUE", "low")
	v.SetDefault("BROADCAST.PAGE_SIZE", 100)
	v.SetDefault("BROADCAST.INTERVAL", 50*time.Millisecond)
	v.SetDefault("BROADCAST.PROGRESS_EVERY", 5)
	v.SetDefault("BROADCAST.TIMEOUT", 48*time.Hour)
	v.SetDefault("TELEGRAM.API_URL", "https://api.telegram.org")
	v.SetDefault("TELEGRAM.TIMEOUT", 15*time.Second)
	v.SetDefault("OTEL.INSECURE", true)
	v.SetDefault("OTEL.SAMPLE_RATIO", 1.0)
}

// LoadConfig reads config.yaml (optional) and the environment, then overlays
// secrets from Vault when a client is available.
func LoadConfig(p Params) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		zap.L().Info("config.yaml not found, using environment and defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if ids := os.Getenv("ADMIN_IDS"); ids != "" {
		cfg.AdminIDs = strings.Split(ids, ",")
	}

	if p.Vault != nil {
		if err := overlaySecrets(context.Background(), p.Vault, &cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func overlaySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("reading secrets from vault", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return err
	}

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("database_user", cfg.Database.User)
	cfg.Database.Password = get("database_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Telegram.BotToken = get("telegram_bot_token", cfg.Telegram.BotToken)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	return nil
}
