// Package config loads typed configuration from environment variables.
//
// Structs describe their variables with github.com/caarlos0/env tags. Load
// reads an optional .env file with github.com/joho/godotenv first; variables
// already set in the environment take precedence over file values.
//
//	type Config struct {
//		Addr     string        `env:"HTTP_ADDR" envDefault:":8080"`
//		Timeout  time.Duration `env:"HTTP_TIMEOUT" envDefault:"5s"`
//		Database pg.Config
//	}
//
//	cfg := config.MustLoad[Config]()
//
// Tests pass an explicit environment instead of mutating the process one:
//
//	cfg, err := config.Load[Config](config.WithEnvironment(map[string]string{"HTTP_ADDR": ":9090"}))
package config
