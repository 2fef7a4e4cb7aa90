package devices_test

import (
	"flag"
	"testing"

	devicescmd "github.com/next-trace/scg-device-relay/internal/cmd/devices"
)

func setRequired(t *testing.T) {
	t.Helper()

	for k, v := range map[string]string{
		"DEVICES_GROUP":       "devices",
		"DEVICES_RPC_GROUP":   "devices-rpc",
		"TOPIC_DEVICES":       "devices",
		"TOPIC_MODULES":       "modules",
		"TOPIC_TELEMETRIES":   "telemetries",
		"TOPIC_RPC_REQUESTS":  "device-commands",
		"TOPIC_RPC_RESPONSES": "device-command-results",
		"DATABASE_DSN":        "postgres://relay@db/relay",
	} {
		t.Setenv(k, v)
	}
}

func TestParseConfig(t *testing.T) {
	setRequired(t)

	cfg, err := devicescmd.ParseConfig(flag.NewFlagSet("devices", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.StoreDriver != devicescmd.StorePostgres || cfg.Group != "devices" || cfg.RPCGroup != "devices-rpc" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfig_PostgresNeedsDSN(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_DSN", "")

	if _, err := devicescmd.ParseConfig(flag.NewFlagSet("devices", flag.ContinueOnError), nil); err == nil {
		t.Fatal("expected missing DSN to be rejected")
	}

	cfg, err := devicescmd.ParseConfig(flag.NewFlagSet("devices", flag.ContinueOnError), []string{"-store", "memory"})
	if err != nil {
		t.Fatalf("memory store needs no DSN: %v", err)
	}

	store, cleanup, err := devicescmd.OpenStore(t.Context(), cfg, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer cleanup()

	if _, err := store.ListDevices(t.Context(), "u1"); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestParseConfig_RefusesMissingGroup(t *testing.T) {
	setRequired(t)
	t.Setenv("DEVICES_GROUP", "")

	if _, err := devicescmd.ParseConfig(flag.NewFlagSet("devices", flag.ContinueOnError), nil); err == nil {
		t.Fatal("expected missing DEVICES_GROUP to be rejected")
	}
}
