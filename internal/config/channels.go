package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/viper"
)

// SaveChannels persists the channel list back to the config file.
//
// The write is guarded by a sibling .lock file so concurrent processes
// (or a concurrent createChannel request) cannot interleave read-modify-write
// cycles. The rest of the file is re-read under the lock and preserved.
func (c *Config) SaveChannels(channels []string) error {
	path := c.configFile
	if path == "" {
		path = filepath.Join(c.configDir, "config.yaml")
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking config file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("re-reading config file: %w", err)
		}
	}

	v.Set("channels", strings.Join(channels, ","))
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	c.Channels = strings.Join(channels, ",")
	c.configFile = path
	return nil
}
