package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Battle   BattleConfig   `mapstructure:"battle"`
	Security SecurityConfig `mapstructure:"security"`
	Plugin   PluginConfig   `mapstructure:"plugin"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// AdminKey guards /api/admin via the X-Admin-Key header. Empty disables
	// the admin routes.
	AdminKey string `mapstructure:"admin_key"`
}

type DataConfig struct {
	Path string `mapstructure:"path"` // directory holding skills.json / opponents.json
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type BattleConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	InputTimeout  time.Duration `mapstructure:"input_timeout"`
	CheckoutTTL   time.Duration `mapstructure:"checkout_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxDuration   time.Duration `mapstructure:"max_duration"` // sweep stops battles older than this
	EventBuffer   int           `mapstructure:"event_buffer"`
	InputRPS      float64       `mapstructure:"input_rps"`
	InputBurst    int           `mapstructure:"input_burst"`
	Weather       string        `mapstructure:"weather"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// PluginConfig controls the JavaScript battle hooks.
type PluginConfig struct {
	ScriptDir string        `mapstructure:"script_dir"` // empty disables script hooks
	PoolSize  int           `mapstructure:"pool_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Load reads config from the given YAML file path. Every key can be
// overridden from the environment, e.g. ARCANA_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ARCANA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("data.path", "./data")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/arcana.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("battle.tick_interval", "1s")
	v.SetDefault("battle.input_timeout", "180s")
	v.SetDefault("battle.checkout_ttl", "60s")
	v.SetDefault("battle.sweep_interval", "30s")
	v.SetDefault("battle.max_duration", "2h")
	v.SetDefault("battle.event_buffer", 64)
	v.SetDefault("battle.input_rps", 5)
	v.SetDefault("battle.input_burst", 10)
	v.SetDefault("battle.weather", "clear")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("plugin.pool_size", 4)
	v.SetDefault("plugin.timeout", "200ms")
}
