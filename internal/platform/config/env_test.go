package config_test

import (
	"testing"
	"time"

	"github.com/next-trace/scg-device-relay/internal/platform/config"
)

type sample struct {
	Addrs   []string      `env:"RELAY_TEST_ADDRS,notEmpty" envSeparator:","`
	Group   string        `env:"RELAY_TEST_GROUP"          envDefault:"devices"`
	Timeout time.Duration `env:"RELAY_TEST_TIMEOUT"        envDefault:"1s"`
}

func TestParseEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_ADDRS", "k1:9092,k2:9092")

	var cfg sample
	if err := config.ParseEnv(&cfg); err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(cfg.Addrs) != 2 || cfg.Group != "devices" || cfg.Timeout != time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseEnv_MissingRequired(t *testing.T) {
	t.Setenv("RELAY_TEST_ADDRS", "")

	var cfg sample
	if err := config.ParseEnv(&cfg); err == nil {
		t.Fatalf("expected error for empty RELAY_TEST_ADDRS")
	}
}
