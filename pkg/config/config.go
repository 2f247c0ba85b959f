// Package config loads prefixed envconfig structs, optionally seeding the
// process environment from an env file first. The file path is taken from
// the ENV_FILE variable; a plain ./.env is picked up when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

var loadFileOnce sync.Once

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

func New[T any](prefix string) (*T, error) {
	var loadErr error
	loadFileOnce.Do(func() {
		path := strings.TrimSpace(os.Getenv("ENV_FILE"))
		if path != "" {
			loadErr = exportEnvFile(path)
			return
		}
		loadErr = exportEnvFileIfExists(".env")
	})
	if loadErr != nil {
		return nil, fmt.Errorf("load env file: %w", loadErr)
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

func exportEnvFileIfExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	return exportEnvFile(path)
}

func exportEnvFile(path string) error {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return err
	}

	for k, v := range viper.AllSettings() {
		key := strings.ToUpper(k)
		if _, set := os.LookupEnv(key); set {
			// Real environment wins over file values.
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(v)); err != nil {
			return err
		}
	}
	return nil
}
