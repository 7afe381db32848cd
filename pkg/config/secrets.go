package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	EnvSQLPassword = "TWIN_SQL_PASSWORD"
	EnvKVPassword  = "TWIN_KV_PASSWORD"

	envFile = ".env"
)

// Secrets holds credentials that are only ever read from the environment.
type Secrets struct {
	SQLPassword string
	KVPassword  string
}

// LoadSecrets reads the password variables. A .env file in dir, when
// present, seeds variables that are not already set in the environment.
func LoadSecrets(dir string) (Secrets, error) {
	if dir != "" {
		err := godotenv.Load(filepath.Join(dir, envFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Secrets{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	return Secrets{
		SQLPassword: os.Getenv(EnvSQLPassword),
		KVPassword:  os.Getenv(EnvKVPassword),
	}, nil
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// LogValue keeps secrets out of logs.
func (s Secrets) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("sql_password", redact(s.SQLPassword)),
		slog.String("kv_password", redact(s.KVPassword)),
	)
}

func (s Secrets) String() string {
	return fmt.Sprintf("Secrets{SQLPassword:%q KVPassword:%q}", redact(s.SQLPassword), redact(s.KVPassword))
}
