package config

import (
	"fmt"
	"os"
	"time"

	base "github.com/AfshinJalili/kryptbroker/libs/config"
)

type KafkaTopics struct {
	Conversions string
	Transfers   string
	Executions  string
	DeadLetter  string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
	MaxAttempts   int
	RetryDelay    time.Duration
}

type Config struct {
	App       base.AppConfig
	DB        base.DBConfig
	Kafka     KafkaConfig
	JWTSecret string
}

func (k KafkaConfig) ConsumeTopics() []string {
	return []string{k.Topics.Conversions, k.Topics.Transfers, k.Topics.Executions}
}

func Load() (*Config, error) {
	path := os.Getenv("KRYPT_CONFIG")
	appCfg, err := base.Load(path, "activity-service")
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "activity-service")
	v.SetDefault("kafka.topics.conversions", "portfolio.conversions")
	v.SetDefault("kafka.topics.transfers", "portfolio.transfers")
	v.SetDefault("kafka.topics.executions", "copy.executions")
	v.SetDefault("kafka.topics.dead_letter", "activity.dead_letter")
	v.SetDefault("kafka.max_attempts", 5)
	v.SetDefault("kafka.retry_delay", "500ms")

	cfg := &Config{
		App: *appCfg,
		DB:  base.LoadDB(),
		Kafka: KafkaConfig{
			Brokers:       base.EnvCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: base.EnvString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				Conversions: base.EnvString("KAFKA_CONVERSIONS_TOPIC", v.GetString("kafka.topics.conversions")),
				Transfers:   base.EnvString("KAFKA_TRANSFERS_TOPIC", v.GetString("kafka.topics.transfers")),
				Executions:  base.EnvString("KAFKA_EXECUTIONS_TOPIC", v.GetString("kafka.topics.executions")),
				DeadLetter:  base.EnvString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
			MaxAttempts: base.EnvInt("KAFKA_MAX_ATTEMPTS", v.GetInt("kafka.max_attempts")),
			RetryDelay:  base.EnvDuration("KAFKA_RETRY_DELAY", v.GetDuration("kafka.retry_delay")),
		},
		JWTSecret: base.EnvString("JWT_SECRET", v.GetString("jwt_secret")),
	}

	if cfg.JWTSecret == "" {
		if !appCfg.IsDevLike() {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = "dev-secret"
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	for _, topic := range cfg.Kafka.ConsumeTopics() {
		if topic == "" {
			return nil, fmt.Errorf("kafka topics must not be empty")
		}
	}
	if cfg.Kafka.MaxAttempts <= 0 {
		return nil, fmt.Errorf("kafka max attempts must be positive")
	}

	return cfg, nil
}
