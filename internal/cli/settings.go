package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"go-file-transfer/internal/client"
	"go-file-transfer/internal/transfer"
)

// Settings are resolved from flags, TRANSFER_* environment variables and an
// optional config file, in that order of precedence.
type Settings struct {
	Server        string
	Token         string
	ChunkSize     int64
	Workers       int
	Journal       string
	MaxPauseWait  time.Duration
	UploadTimeout time.Duration
	LogLevel      string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TRANSFER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server", "http://localhost:8080")
	v.SetDefault("token", "")
	v.SetDefault("chunk-size", humanize.IBytes(uint64(transfer.DefaultChunkSize)))
	v.SetDefault("workers", 1)
	v.SetDefault("journal", defaultJournalPath())
	v.SetDefault("max-pause-wait", time.Duration(0))
	v.SetDefault("upload-timeout", client.DefaultUploadTimeout)
	v.SetDefault("log-level", "warn")
	return v
}

func defaultJournalPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "transferctl", "journal.db")
}

// readConfigFile loads path, or transferctl.{yaml,json,toml} from the user
// config dir or the working directory when path is empty. A missing default
// file is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("transferctl")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "transferctl"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func loadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		Server:        strings.TrimRight(v.GetString("server"), "/"),
		Token:         v.GetString("token"),
		Workers:       v.GetInt("workers"),
		Journal:       v.GetString("journal"),
		MaxPauseWait:  v.GetDuration("max-pause-wait"),
		UploadTimeout: v.GetDuration("upload-timeout"),
		LogLevel:      v.GetString("log-level"),
	}

	chunkSize, err := humanize.ParseBytes(v.GetString("chunk-size"))
	if err != nil {
		return Settings{}, fmt.Errorf("chunk-size: %w", err)
	}
	s.ChunkSize = int64(chunkSize)

	if s.Server == "" {
		return Settings{}, errors.New("server must be set")
	}
	if s.ChunkSize <= 0 {
		return Settings{}, fmt.Errorf("chunk-size must be positive, got %d", s.ChunkSize)
	}
	if s.Workers < 1 {
		return Settings{}, fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}
	if s.MaxPauseWait < 0 {
		return Settings{}, errors.New("max-pause-wait must not be negative")
	}
	return s, nil
}
