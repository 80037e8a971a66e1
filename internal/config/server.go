// Package config loads the configuration for zephyrd and the zephyr client
// CLI. The server side uses viper (SPEC_FULL.md's ambient config stack) to
// read one named config file, the first found in /etc/<name> or the working
// directory, with ZEPHYR_-prefixed environment variables overriding it.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/zephyrtun/zephyr/internal/server"
	"github.com/zephyrtun/zephyr/internal/session"
)

// parsePortRange parses the "<lo>-<hi>" form of core.allow_ports (spec.md
// §6), inclusive-low/exclusive-high per entrypoint.Registry's contract.
func parsePortRange(s string) (lo, hi int, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("config: invalid core.allow_ports %q, want \"<lo>-<hi>\"", s)
	}
	lo, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("config: invalid core.allow_ports %q: %w", s, err)
	}
	hi, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("config: invalid core.allow_ports %q: %w", s, err)
	}
	return lo, hi, nil
}

// serverDefaults are applied before any layer is read, so an entirely
// absent config file (a fresh /etc/zephyrd install) still runs.
func serverDefaults(v *viper.Viper) {
	v.SetDefault("core.debug", false)
	v.SetDefault("core.bind_addr", ":4443")
	v.SetDefault("core.auth_method", string(session.AuthMethodToken))
	v.SetDefault("core.allow_ports", "20000-30000")
	v.SetDefault("http.bind_addr", ":8080")
	v.SetDefault("http.default_domain", "")
}

// LoadServer builds a server.Config from the first <name>.{yaml,...} file
// found in /etc/<name> or the working directory, searched in that order,
// and from ZEPHYR_-prefixed environment variables, which override the file.
// Only one file is read: when both locations hold one, the file in
// /etc/<name> is used and the one in the working directory is ignored.
// name is the base config file name without extension, typically "zephyrd".
func LoadServer(name string) (server.Config, error) {
	v := viper.New()
	serverDefaults(v)

	v.SetConfigName(name)
	v.AddConfigPath(fmt.Sprintf("/etc/%s", name))
	v.AddConfigPath(".")

	v.SetEnvPrefix("ZEPHYR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return server.Config{}, fmt.Errorf("config: reading %s: %w", name, err)
		}
	}

	portLo, portHi, err := parsePortRange(v.GetString("core.allow_ports"))
	if err != nil {
		return server.Config{}, err
	}

	tokens := v.GetStringMapString("tokens")

	return server.Config{
		ControlAddr:   v.GetString("core.bind_addr"),
		HTTPAddr:      v.GetString("http.bind_addr"),
		DefaultDomain: v.GetString("http.default_domain"),
		PortLo:        portLo,
		PortHi:        portHi,
		AuthMethod:    session.AuthMethod(v.GetString("core.auth_method")),
		Tokens:        tokens,
	}, nil
}

// Debug reports whether core.debug was set by any layer, for main's log
// level selection.
func Debug(name string) bool {
	v := viper.New()
	serverDefaults(v)
	v.SetConfigName(name)
	v.AddConfigPath(fmt.Sprintf("/etc/%s", name))
	v.AddConfigPath(".")
	v.SetEnvPrefix("ZEPHYR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.ReadInConfig()
	return v.GetBool("core.debug")
}
