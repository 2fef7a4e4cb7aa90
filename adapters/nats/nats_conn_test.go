package nats

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

func TestNewWithNATS_RequiresURL(t *testing.T) {
	_, _, err := NewWithNATS(Config{}, nil)
	if !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}
}

func TestNewWithNATS_UnreachableServer(t *testing.T) {
	_, _, err := NewWithNATS(Config{URL: "nats://127.0.0.1:1", ConnTimeout: 100 * time.Millisecond}, nil)
	if !errors.Is(err, berr.ErrBrokerUnavailable) {
		t.Fatalf("want ErrBrokerUnavailable, got %v", err)
	}
}

func TestConfigOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	base := len(Config{}.options(logger))
	full := len(Config{Name: "gateway", ConnTimeout: time.Second, MaxReconnects: -1}.options(logger))

	if full != base+3 {
		t.Fatalf("options: base=%d full=%d", base, full)
	}
}
