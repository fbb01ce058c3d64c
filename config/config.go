package config

import (
	"net"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Backend protocol used for upstream connections. Selected once at startup;
// the proxy never re-evaluates it per request.
const (
	ProtocolHTTP1 = "http1"
	ProtocolHTTP2 = "http2"
)

// Load balancing strategies accepted in route configuration.
const (
	StrategyRoundRobin       = "round_robin"
	StrategyLeastConnections = "least_connections"
	StrategyRandom           = "random"
)

type ServerConfig struct {
	Listen                   string `mapstructure:"listen"`
	Workers                  int    `mapstructure:"workers"`
	TimeoutSecs              int    `mapstructure:"timeout_secs"`
	MaxConnectionsPerBackend int    `mapstructure:"max_connections_per_backend"`
	AccessLog                bool   `mapstructure:"access_log"`
	BackendProtocol          string `mapstructure:"backend_protocol"`
	MetricsAddr              string `mapstructure:"metrics_addr"`
	Environment              string `mapstructure:"environment"`
}

type HealthCheckConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type BackendConfig struct {
	URL         string `mapstructure:"url"`
	Weight      int    `mapstructure:"weight"`
	HealthCheck string `mapstructure:"health_check"`
}

type RouteConfig struct {
	Name          string          `mapstructure:"name"`
	Host          string          `mapstructure:"host"`
	PathPrefix    string          `mapstructure:"path_prefix"`
	StripPrefix   bool            `mapstructure:"strip_prefix"`
	LoadBalancing string          `mapstructure:"load_balancing"`
	Backends      []BackendConfig `mapstructure:"backends"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config is an immutable configuration snapshot. Once a *Config has been
// published through a Store it must never be mutated; reloads build a fresh
// snapshot and swap it in.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Routes      []RouteConfig     `mapstructure:"routes"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.listen", "0.0.0.0:8080")
	v.SetDefault("server.workers", 0)
	v.SetDefault("server.timeout_secs", 30)
	v.SetDefault("server.max_connections_per_backend", 8)
	v.SetDefault("server.access_log", true)
	v.SetDefault("server.backend_protocol", ProtocolHTTP1)
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("health_check.enabled", false)
	v.SetDefault("health_check.interval", "2s")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 100)
	v.SetDefault("rate_limit.burst", 200)
	v.SetDefault("logging.level", LogLevelInfo)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, wrap(ErrParse, err)
	}

	applyRouteDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, wrap(ErrValidation, err)
	}

	return &cfg, nil
}

func applyRouteDefaults(cfg *Config) {
	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		if route.Host == "" {
			route.Host = "*"
		}
		if route.PathPrefix == "" {
			route.PathPrefix = "/"
		}
		if route.LoadBalancing == "" {
			route.LoadBalancing = StrategyRoundRobin
		}
		for j := range route.Backends {
			if route.Backends[j].Weight == 0 {
				route.Backends[j].Weight = 1
			}
		}
	}
}

// Validate checks the full snapshot. A config that fails validation never
// becomes visible through a Store.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Listen,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.BackendProtocol,
						validation.Required,
						validation.In(ProtocolHTTP1, ProtocolHTTP2),
					),
					validation.Field(&sc.TimeoutSecs,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&sc.MaxConnectionsPerBackend,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Routes,
			validation.Each(validation.By(validateRouteConfig)),
		),
	)
}

func validateRouteConfig(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	return validation.ValidateStruct(&route,
		validation.Field(&route.Name, validation.Required),
		validation.Field(&route.PathPrefix,
			validation.Required,
			validation.By(func(v interface{}) error {
				p, _ := v.(string)
				if !strings.HasPrefix(p, "/") {
					return validation.NewError("validation_invalid_prefix", "path_prefix must start with /")
				}
				return nil
			}),
		),
		validation.Field(&route.LoadBalancing,
			validation.Required,
			validation.In(StrategyRoundRobin, StrategyLeastConnections, StrategyRandom),
		),
		validation.Field(&route.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
		),
	)
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if backend.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(backend.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	// Upstream connections are cleartext (h2c for HTTP/2); a TLS backend
	// would receive plaintext and fail at request time, so reject it here.
	if parsedURL.Scheme != "http" {
		return validation.NewError("validation_invalid_scheme", "URL must use the http scheme (TLS backends are not supported)")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if backend.Weight < 1 {
		return validation.NewError("validation_invalid_weight", "weight must be at least 1")
	}

	if backend.HealthCheck != "" && !strings.HasPrefix(backend.HealthCheck, "/") {
		return validation.NewError("validation_invalid_health_check", "health_check must be an absolute path")
	}

	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}
