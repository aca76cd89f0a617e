// Package config loads application configuration from environment variables.
//
// It wraps github.com/caarlos0/env/v11 for struct parsing and
// github.com/joho/godotenv for optional .env files. Each configuration type
// is parsed once per process and cached, so packages can call Load for their
// own struct without coordinating.
//
// # Usage
//
//	type Config struct {
//		Addr    string        `env:"HTTP_ADDR" envDefault:":8080"`
//		Timeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
//		Secret  string        `env:"SESSION_SECRET,required"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
// Parse errors are cached as well: a type that failed once keeps failing
// until the process restarts, which keeps every caller's view consistent.
package config
