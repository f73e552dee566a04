package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultEnvFile is read when present unless other files are given.
const DefaultEnvFile = ".env"

type options struct {
	files    []string
	required bool
	prefix   string
	environ  map[string]string
}

// Option configures Load.
type Option func(*options)

// WithEnvFiles reads the given dotenv files instead of DefaultEnvFile.
// Later files override earlier ones; all of them must exist.
func WithEnvFiles(files ...string) Option {
	return func(o *options) {
		o.files = files
		o.required = true
	}
}

// WithPrefix makes every variable name start with prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithEnvironment replaces the process environment as the source of variables.
func WithEnvironment(environ map[string]string) Option {
	return func(o *options) { o.environ = environ }
}

// Load parses a configuration struct from `env` tags.
// Values from dotenv files are used only where the environment leaves a variable unset.
//
//	type Config struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	cfg, err := config.Load[Config]()
func Load[T any](opts ...Option) (T, error) {
	o := options{files: []string{DefaultEnvFile}}
	for _, opt := range opts {
		opt(&o)
	}

	environ := o.environ
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}

	merged := make(map[string]string, len(environ))
	for _, file := range o.files {
		values, err := godotenv.Read(file)
		if err != nil {
			if !o.required && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			var zero T
			return zero, errors.Join(ErrReadingEnvFile, fmt.Errorf("%s: %w", file, err))
		}
		maps.Copy(merged, values)
	}
	maps.Copy(merged, environ)

	cfg, err := env.ParseAsWithOptions[T](env.Options{
		Environment: merged,
		Prefix:      o.prefix,
	})
	if err != nil {
		var zero T
		return zero, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad works like Load but panics on failure. Intended for process startup.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return cfg
}
