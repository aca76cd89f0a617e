package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	dotenvOnce sync.Once
	entries    sync.Map // reflect.Type -> *entry
)

// LoadEnv loads the given dotenv files, or ".env" when none are given, into
// the process environment. Variables already set are kept. Only the first
// call has an effect; missing files are ignored.
func LoadEnv(files ...string) {
	dotenvOnce.Do(func() {
		if len(files) == 0 {
			files = []string{".env"}
		}
		for _, f := range files {
			_ = godotenv.Load(f)
		}
	})
}

// Load parses environment variables into v using `env` and `envDefault`
// struct tags. Each configuration type is parsed once per process; later
// calls copy the cached value, or return the cached error.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	LoadEnv()

	key := reflect.TypeFor[T]()
	raw, _ := entries.LoadOrStore(key, &entry{})
	e := raw.(*entry)

	e.once.Do(func() {
		var parsed T
		if err := env.Parse(&parsed); err != nil {
			e.err = errors.Join(ErrParsingConfig, fmt.Errorf("%s: %w", key, err))
			return
		}
		e.value = parsed
	})
	if e.err != nil {
		return e.err
	}

	*v = e.value.(T)
	return nil
}

// MustLoad is like Load but panics on error. Use it for configuration the
// process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// Get returns the configuration of type T.
func Get[T any]() (T, error) {
	var v T
	err := Load(&v)
	return v, err
}
