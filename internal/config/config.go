package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Webhook    WebhookConfig
	Mail       MailConfig
	Catalog    CatalogConfig
	Activation ActivationConfig
	Worker     WorkerConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding headers
	// are believed. Empty means the client address is always the TCP peer.
	TrustedProxies []string `mapstructure:"trustedProxies"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory"; the memory store is for local runs only.
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"poolSize"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type WebhookConfig struct {
	Secret    string        `mapstructure:"secret"`
	Tolerance time.Duration `mapstructure:"tolerance"`
	DedupTTL  time.Duration `mapstructure:"dedupTTL"`
}

type MailConfig struct {
	SMTPHost     string `mapstructure:"smtpHost"`
	SMTPPort     string `mapstructure:"smtpPort"`
	SMTPUsername string `mapstructure:"smtpUsername"`
	SMTPPassword string `mapstructure:"smtpPassword"`
	FromEmail    string `mapstructure:"fromEmail"`
	FromName     string `mapstructure:"fromName"`
}

func (c *MailConfig) IsConfigured() bool {
	return c.SMTPHost != "" && c.SMTPPort != "" && c.FromEmail != ""
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type ActivationConfig struct {
	TokenSecret string `mapstructure:"tokenSecret"`
	TokenIssuer string `mapstructure:"tokenIssuer"`
	// RateLimit is activations per second allowed per client IP; 0 disables limiting.
	RateLimit float64 `mapstructure:"rateLimit"`
	RateBurst int     `mapstructure:"rateBurst"`
}

type WorkerConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	LapsedScan       string `mapstructure:"lapsedScan"`
	DeliveryMaxRetry int    `mapstructure:"deliveryMaxRetry"`
	// DeliverySweep re-queues licenses whose delivery was never scheduled.
	DeliverySweep string        `mapstructure:"deliverySweep"`
	DeliveryGrace time.Duration `mapstructure:"deliveryGrace"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allowOrigins"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.shutdownPeriod", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 25)
	v.SetDefault("database.connMaxLifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.dialTimeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("webhook.tolerance", 5*time.Minute)
	v.SetDefault("webhook.dedupTTL", 72*time.Hour)

	v.SetDefault("mail.smtpPort", "587")
	v.SetDefault("mail.fromName", "FHIR Genesis Licensing")

	v.SetDefault("activation.tokenIssuer", "license-issuer-api")
	v.SetDefault("activation.rateLimit", 2.0)
	v.SetDefault("activation.rateBurst", 10)

	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.lapsedScan", "@every 1h")
	v.SetDefault("worker.deliveryMaxRetry", 10)
	v.SetDefault("worker.deliverySweep", "@every 15m")
	v.SetDefault("worker.deliveryGrace", 10*time.Minute)

	v.SetDefault("cors.allowOrigins", []string{"http://localhost:3000"})

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{"database.url", "redis.password", "webhook.secret", "mail.smtpHost",
		"mail.smtpUsername", "mail.smtpPassword", "mail.fromEmail", "catalog.path", "activation.tokenSecret",
		"server.trustedProxies"} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
