package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	base "github.com/AfshinJalili/kryptbroker/libs/config"
	"github.com/AfshinJalili/kryptbroker/services/portfolio/internal/ledger"
	"github.com/shopspring/decimal"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type KafkaTopics struct {
	Conversions string
	Transfers   string
	Executions  string
	DeadLetter  string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topics  KafkaTopics
}

type OracleConfig struct {
	BaseURL        string
	APIKey         string
	VsCurrency     string
	CoinIDs        map[ledger.Symbol]string
	Pegs           map[ledger.Symbol]decimal.Decimal
	StaticPrices   map[ledger.Symbol]decimal.Decimal
	AttemptTimeout time.Duration
	CallTimeout    time.Duration
	MaxAttempts    int
	CacheTTL       time.Duration
}

type LedgerConfig struct {
	ReferenceSymbol ledger.Symbol
	MaxAttempts     int
}

type Config struct {
	App         base.AppConfig
	StoreDriver string
	DB          base.DBConfig
	Redis       base.RedisConfig
	Kafka       KafkaConfig
	Oracle      OracleConfig
	Ledger      LedgerConfig
	JWTSecret   string
}

func Load() (*Config, error) {
	path := os.Getenv("KRYPT_CONFIG")
	appCfg, err := base.Load(path, "portfolio-service")
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("store.driver", StoreDriverPostgres)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.conversions", "portfolio.conversions")
	v.SetDefault("kafka.topics.transfers", "portfolio.transfers")
	v.SetDefault("kafka.topics.executions", "copy.executions")
	v.SetDefault("kafka.topics.dead_letter", "")
	v.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.vs_currency", "usd")
	v.SetDefault("oracle.attempt_timeout", "750ms")
	v.SetDefault("oracle.call_timeout", "3s")
	v.SetDefault("oracle.max_attempts", 3)
	v.SetDefault("oracle.cache_ttl", "30s")
	v.SetDefault("ledger.reference_symbol", "USDT")
	v.SetDefault("ledger.max_attempts", 3)
	v.SetDefault("redis.prefix", "krypt:price:")

	coinIDs, err := parseCoinIDs(base.EnvCSV("ORACLE_COIN_IDS", v.GetStringSlice("oracle.coin_ids")))
	if err != nil {
		return nil, err
	}
	pegs, err := parsePrices(base.EnvCSV("ORACLE_PEGS", v.GetStringSlice("oracle.pegs")))
	if err != nil {
		return nil, fmt.Errorf("oracle pegs: %w", err)
	}
	staticPrices, err := parsePrices(base.EnvCSV("ORACLE_STATIC_PRICES", v.GetStringSlice("oracle.static_prices")))
	if err != nil {
		return nil, fmt.Errorf("oracle static prices: %w", err)
	}
	reference, err := ledger.ParseSymbol(base.EnvString("LEDGER_REFERENCE_SYMBOL", v.GetString("ledger.reference_symbol")))
	if err != nil {
		return nil, fmt.Errorf("ledger reference symbol: %w", err)
	}

	cfg := &Config{
		App:         *appCfg,
		StoreDriver: strings.ToLower(base.EnvString("STORE_DRIVER", v.GetString("store.driver"))),
		DB:          base.LoadDB(),
		Redis: base.RedisConfig{
			Addr:     base.EnvString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: base.EnvString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       base.EnvInt("REDIS_DB", v.GetInt("redis.db")),
			Prefix:   base.EnvString("REDIS_PREFIX", v.GetString("redis.prefix")),
		},
		Kafka: KafkaConfig{
			Enabled: base.EnvBool("KAFKA_ENABLED", v.GetBool("kafka.enabled")),
			Brokers: base.EnvCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				Conversions: base.EnvString("KAFKA_CONVERSIONS_TOPIC", v.GetString("kafka.topics.conversions")),
				Transfers:   base.EnvString("KAFKA_TRANSFERS_TOPIC", v.GetString("kafka.topics.transfers")),
				Executions:  base.EnvString("KAFKA_EXECUTIONS_TOPIC", v.GetString("kafka.topics.executions")),
				DeadLetter:  base.EnvString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Oracle: OracleConfig{
			BaseURL:        base.EnvString("ORACLE_BASE_URL", v.GetString("oracle.base_url")),
			APIKey:         base.EnvString("ORACLE_API_KEY", v.GetString("oracle.api_key")),
			VsCurrency:     base.EnvString("ORACLE_VS_CURRENCY", v.GetString("oracle.vs_currency")),
			CoinIDs:        coinIDs,
			Pegs:           pegs,
			StaticPrices:   staticPrices,
			AttemptTimeout: base.EnvDuration("ORACLE_ATTEMPT_TIMEOUT", v.GetDuration("oracle.attempt_timeout")),
			CallTimeout:    base.EnvDuration("ORACLE_CALL_TIMEOUT", v.GetDuration("oracle.call_timeout")),
			MaxAttempts:    base.EnvInt("ORACLE_MAX_ATTEMPTS", v.GetInt("oracle.max_attempts")),
			CacheTTL:       base.EnvDuration("ORACLE_CACHE_TTL", v.GetDuration("oracle.cache_ttl")),
		},
		Ledger: LedgerConfig{
			ReferenceSymbol: reference,
			MaxAttempts:     base.EnvInt("LEDGER_MAX_ATTEMPTS", v.GetInt("ledger.max_attempts")),
		},
		JWTSecret: base.EnvString("JWT_SECRET", v.GetString("jwt_secret")),
	}

	if cfg.JWTSecret == "" {
		if !appCfg.IsDevLike() {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.StoreDriver != StoreDriverPostgres && cfg.StoreDriver != StoreDriverMemory {
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == StoreDriverMemory && !appCfg.IsDevLike() {
		return nil, fmt.Errorf("memory store is only allowed in dev or test")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if len(cfg.Oracle.StaticPrices) == 0 && strings.TrimSpace(cfg.Oracle.BaseURL) == "" {
		return nil, fmt.Errorf("oracle base url required")
	}
	if cfg.Oracle.CallTimeout <= 0 {
		return nil, fmt.Errorf("oracle call timeout must be positive")
	}
	if cfg.Ledger.MaxAttempts <= 0 {
		return nil, fmt.Errorf("ledger max attempts must be positive")
	}

	return cfg, nil
}

// parseCoinIDs reads SYMBOL=coin-id pairs.
func parseCoinIDs(pairs []string) (map[ledger.Symbol]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[ledger.Symbol]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("oracle coin id %q must be SYMBOL=id", pair)
		}
		sym, err := ledger.ParseSymbol(key)
		if err != nil {
			return nil, fmt.Errorf("oracle coin id %q: %w", pair, err)
		}
		out[sym] = strings.TrimSpace(value)
	}
	return out, nil
}

// parsePrices reads SYMBOL=price pairs.
func parsePrices(pairs []string) (map[ledger.Symbol]decimal.Decimal, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[ledger.Symbol]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%q must be SYMBOL=price", pair)
		}
		sym, err := ledger.ParseSymbol(key)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pair, err)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("%q: price must be a positive number", pair)
		}
		out[sym] = price
	}
	return out, nil
}
