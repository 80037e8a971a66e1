package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zephyrtun/zephyr/internal/session"
)

func TestLoadServerDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg, err := LoadServer("zephyrd-nonexistent")
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.ControlAddr != ":4443" {
		t.Errorf("ControlAddr = %q, want :4443", cfg.ControlAddr)
	}
	if cfg.PortLo != 20000 || cfg.PortHi != 30000 {
		t.Errorf("port range = [%d, %d), want [20000, 30000)", cfg.PortLo, cfg.PortHi)
	}
	if cfg.AuthMethod != session.AuthMethodToken {
		t.Errorf("AuthMethod = %q, want token", cfg.AuthMethod)
	}
}

func TestLoadServerFromFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	contents := `
core:
  bind_addr: ":9999"
  allow_ports: "100-200"
http:
  bind_addr: ":8081"
  default_domain: "tunnel.test"
tokens:
  alice: secret-token
`
	if err := os.WriteFile(filepath.Join(dir, "zephyrd.yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := LoadServer("zephyrd")
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.ControlAddr != ":9999" {
		t.Errorf("ControlAddr = %q, want :9999", cfg.ControlAddr)
	}
	if cfg.PortLo != 100 || cfg.PortHi != 200 {
		t.Errorf("port range = [%d, %d), want [100, 200)", cfg.PortLo, cfg.PortHi)
	}
	if cfg.DefaultDomain != "tunnel.test" {
		t.Errorf("DefaultDomain = %q, want tunnel.test", cfg.DefaultDomain)
	}
	if cfg.Tokens["alice"] != "secret-token" {
		t.Errorf("Tokens[alice] = %q, want secret-token", cfg.Tokens["alice"])
	}
}

func TestLoadServerEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(cwd) })

	contents := "core:\n  bind_addr: \":9999\"\n"
	if err := os.WriteFile(filepath.Join(dir, "zephyrd.yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("ZEPHYR_CORE_BIND_ADDR", ":1111")

	cfg, err := LoadServer("zephyrd")
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.ControlAddr != ":1111" {
		t.Errorf("ControlAddr = %q, want env override :1111", cfg.ControlAddr)
	}
}

func TestParsePortRangeInvalid(t *testing.T) {
	if _, _, err := parsePortRange("not-a-range-at-all-nope"); err == nil {
		t.Fatal("expected error for malformed range")
	}
	if _, _, err := parsePortRange("abc-200"); err == nil {
		t.Fatal("expected error for non-numeric lo")
	}
}
