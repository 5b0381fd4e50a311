package config

import (
	"fmt"
	"os"
	"time"

	base "github.com/AfshinJalili/kryptbroker/libs/config"
	"github.com/AfshinJalili/kryptbroker/services/auth/internal/security"
)

type RateLimitConfig struct {
	LoginLimit int
	Window     time.Duration
	Redis      base.RedisConfig
}

type Config struct {
	App       base.AppConfig
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
	Argon2    security.Argon2Params
	DB        base.DBConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	path := os.Getenv("KRYPT_CONFIG")
	appCfg, err := base.Load(path, "auth-service")
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("jwt.issuer", "krypt-auth")
	v.SetDefault("jwt.ttl", "1h")
	v.SetDefault("rate_limit.login_limit", 10)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.redis.prefix", "krypt:auth:rl:")

	defaults := security.DefaultArgon2Params
	cfg := &Config{
		App:       *appCfg,
		JWTSecret: base.EnvString("JWT_SECRET", v.GetString("jwt_secret")),
		JWTIssuer: base.EnvString("JWT_ISSUER", v.GetString("jwt.issuer")),
		TokenTTL:  base.EnvDuration("JWT_TTL", v.GetDuration("jwt.ttl")),
		Argon2: security.Argon2Params{
			Memory:      uint32(base.EnvInt("ARGON2_MEMORY", int(defaults.Memory))),
			Iterations:  uint32(base.EnvInt("ARGON2_ITERATIONS", int(defaults.Iterations))),
			Parallelism: uint8(base.EnvInt("ARGON2_PARALLELISM", int(defaults.Parallelism))),
			SaltLength:  uint32(base.EnvInt("ARGON2_SALT_LENGTH", int(defaults.SaltLength))),
			KeyLength:   uint32(base.EnvInt("ARGON2_KEY_LENGTH", int(defaults.KeyLength))),
		},
		DB: base.LoadDB(),
		RateLimit: RateLimitConfig{
			LoginLimit: base.EnvInt("LOGIN_RATE_LIMIT", v.GetInt("rate_limit.login_limit")),
			Window:     base.EnvDuration("LOGIN_RATE_WINDOW", v.GetDuration("rate_limit.window")),
			Redis: base.RedisConfig{
				Addr:     base.EnvString("REDIS_ADDR", v.GetString("rate_limit.redis.addr")),
				Password: base.EnvString("REDIS_PASSWORD", v.GetString("rate_limit.redis.password")),
				DB:       base.EnvInt("REDIS_DB", v.GetInt("rate_limit.redis.db")),
				Prefix:   base.EnvString("RATE_LIMIT_REDIS_PREFIX", v.GetString("rate_limit.redis.prefix")),
			},
		},
	}

	if cfg.JWTSecret == "" {
		if !appCfg.IsDevLike() {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("jwt ttl must be positive")
	}
	if cfg.RateLimit.LoginLimit <= 0 || cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("login rate limit and window must be positive")
	}
	if cfg.Argon2.SaltLength < 8 || cfg.Argon2.KeyLength < 16 || cfg.Argon2.Iterations == 0 || cfg.Argon2.Parallelism == 0 {
		return nil, fmt.Errorf("argon2 parameters too weak")
	}

	return cfg, nil
}
