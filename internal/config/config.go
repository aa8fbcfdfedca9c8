package config

import "github.com/kelseyhightower/envconfig"

// Config holds application configuration loaded from environment variables.
// BOT_TOKEN and DB_PATH have no defaults on purpose: the process must not
// start without a transport credential and a durable store.
type Config struct {
	BotToken     string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath       string `envconfig:"DB_PATH" required:"true"`
	DeliveryTime string `envconfig:"DELIVERY_TIME" default:"12:00"` // HH:MM in DeliveryTZ
	DeliveryTZ   string `envconfig:"DELIVERY_TZ" default:"Europe/Moscow"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":8080"` // healthz + metrics
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
