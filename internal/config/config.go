package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
)

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

type YooKassaConfig struct {
	ShopID         string        `mapstructure:"shop_id"`
	SecretKey      string        `mapstructure:"secret_key"`
	BaseURL        string        `mapstructure:"base_url"`
	ReturnURL      string        `mapstructure:"return_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type ReminderConfig struct {
	UrgentDay int `mapstructure:"urgent_day"` // day of month after which the current-month reminder is urgent
}

type LogConfig struct {
	Mode string `mapstructure:"mode"` // development | production
}

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	YooKassa YooKassaConfig `mapstructure:"yookassa"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Log      LogConfig      `mapstructure:"log"`
}

// Load reads configuration from config.yaml (if present) and TUTORCRM_*
// environment variables. Env always wins.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tutorcrm")

	v.SetEnvPrefix("TUTORCRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "file:tutorcrm.db")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.session_ttl", 30*time.Minute)

	v.SetDefault("telegram.base_url", "https://api.telegram.org")

	v.SetDefault("yookassa.base_url", "https://api.yookassa.ru/v3")
	v.SetDefault("yookassa.return_url", "https://t.me/")
	v.SetDefault("yookassa.connect_timeout", 15*time.Second)
	v.SetDefault("yookassa.read_timeout", 45*time.Second)

	v.SetDefault("reminder.urgent_day", 5)

	v.SetDefault("log.mode", "production")
}
