package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Backend  BackendConfig  `yaml:"backend"`
	Auth     AuthConfig     `yaml:"auth"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS"`
	SwaggerDir      string        `yaml:"swagger_dir" env:"SWAGGER_DIR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS"`
}

type GRPCConfig struct {
	Address string `yaml:"address" env:"GRPC_ADDRESS"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Name     string `yaml:"name" env:"POSTGRES_DB"`
	SSLMode  string `yaml:"ssl_mode" env:"POSTGRES_SSL_MODE"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers" env:"KAFKA_BROKERS"`
	BookingEventsTopic string   `yaml:"booking_events_topic" env:"KAFKA_BOOKING_EVENTS_TOPIC"`
	NotificationsTopic string   `yaml:"notifications_topic" env:"KAFKA_NOTIFICATIONS_TOPIC"`
	GroupID            string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
}

// CheckoutConfig holds the reservation windows shared by the server and the engine.
type CheckoutConfig struct {
	SeatLockTTL     time.Duration `yaml:"seat_lock_ttl" env:"CHECKOUT_SEAT_LOCK_TTL"`
	SessionTTL      time.Duration `yaml:"session_ttl" env:"CHECKOUT_SESSION_TTL"`
	FlightsCacheTTL time.Duration `yaml:"flights_cache_ttl" env:"CHECKOUT_FLIGHTS_CACHE_TTL"`
}

// BackendConfig points the checkout CLI at a session service.
type BackendConfig struct {
	BaseURL    string        `yaml:"base_url" env:"SESSION_API_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"SESSION_API_TIMEOUT"`
	Token      string        `yaml:"token" env:"SESSION_API_TOKEN"`
	ResumeFile string        `yaml:"resume_file" env:"CHECKOUT_RESUME_FILE"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// Required rejects requests without a bearer token. Otherwise tokens are
	// checked when present and anonymous sessions are allowed.
	Required bool `yaml:"required" env:"AUTH_REQUIRED"`
}

type WorkerConfig struct {
	ExpirationSweep time.Duration `yaml:"expiration_sweep" env:"WORKER_EXPIRATION_SWEEP"`
	SweepBatchSize  int           `yaml:"sweep_batch_size" env:"WORKER_SWEEP_BATCH_SIZE"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// LoadConfig reads the YAML file at path, then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadEnv builds the config from environment variables and defaults only.
func LoadEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Checkout.SeatLockTTL == 0 {
		c.Checkout.SeatLockTTL = 15 * time.Minute
	}
	if c.Checkout.SessionTTL == 0 {
		c.Checkout.SessionTTL = 30 * time.Minute
	}
	if c.Checkout.FlightsCacheTTL == 0 {
		c.Checkout.FlightsCacheTTL = time.Minute
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 10 * time.Second
	}
	if c.Backend.ResumeFile == "" {
		c.Backend.ResumeFile = "checkout.db"
	}
	if c.Worker.ExpirationSweep == 0 {
		c.Worker.ExpirationSweep = time.Minute
	}
	if c.Worker.SweepBatchSize == 0 {
		c.Worker.SweepBatchSize = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Checkout.SeatLockTTL <= 0 {
		errs = append(errs, errors.New("checkout.seat_lock_ttl must be positive"))
	}
	if c.Checkout.SessionTTL <= 0 {
		errs = append(errs, errors.New("checkout.session_ttl must be positive"))
	}
	if c.Checkout.SeatLockTTL > c.Checkout.SessionTTL {
		errs = append(errs, fmt.Errorf("checkout.seat_lock_ttl (%s) must not exceed checkout.session_ttl (%s)",
			c.Checkout.SeatLockTTL, c.Checkout.SessionTTL))
	}
	if c.Checkout.FlightsCacheTTL < 0 {
		errs = append(errs, errors.New("checkout.flights_cache_ttl must not be negative"))
	}
	if c.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}
	if c.Worker.ExpirationSweep <= 0 {
		errs = append(errs, errors.New("worker.expiration_sweep must be positive"))
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth.required is set"))
	}
	return errors.Join(errs...)
}
