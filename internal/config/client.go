package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// ClientFile is the parsed contents of the client's config.ini, the
// persisted form of the "zephyr config" interactive writer (cmd/client).
type ClientFile struct {
	Endpoint string
	Token    string
}

// ClientConfigPath returns the default location of the client config file,
// <user config home>/zephyr/config.ini, using os.UserConfigDir so the path
// is correct per-OS (~/.config on Linux, %AppData% on Windows, ...).
func ClientConfigPath() (string, error) {
	home, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving user config dir: %w", err)
	}
	return filepath.Join(home, "zephyr", "config.ini"), nil
}

// LoadClient reads path (or the default location if path is empty). A
// missing file is not an error; it returns a zero ClientFile so CLI flags
// alone can still drive the client.
func LoadClient(path string) (ClientFile, error) {
	if path == "" {
		var err error
		path, err = ClientConfigPath()
		if err != nil {
			return ClientFile{}, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ClientFile{}, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return ClientFile{}, fmt.Errorf("config: loading %s: %w", path, err)
	}

	section := cfg.Section("")
	return ClientFile{
		Endpoint: section.Key("endpoint").String(),
		Token:    section.Key("token").String(),
	}, nil
}

// SaveClient writes cf to path (or the default location), creating parent
// directories as needed. Used by the "zephyr config" subcommand.
func SaveClient(path string, cf ClientFile) error {
	if path == "" {
		var err error
		path, err = ClientConfigPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}

	cfg := ini.Empty()
	section := cfg.Section("")
	section.Key("endpoint").SetValue(cf.Endpoint)
	section.Key("token").SetValue(cf.Token)

	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("config: saving %s: %w", path, err)
	}
	return nil
}
