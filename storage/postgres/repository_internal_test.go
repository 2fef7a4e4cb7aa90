package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestClassify(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503", Message: "insert or update on table \"devices\" violates foreign key constraint"}
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	badUUID := &pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "7"`}

	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"record not found", gorm.ErrRecordNotFound, true},
		{"wrapped fk violation", fmt.Errorf("exec: %w", fk), true},
		{"malformed uuid", badUUID, true},
		{"unique violation", unique, false},
		{"plain", errors.New("connection reset"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(quiet, "test", tc.err, "device d1")
			if errors.Is(got, berr.ErrNotFound) != tc.notFound {
				t.Fatalf("classify(%v) = %v, notFound want %v", tc.err, got, tc.notFound)
			}

			if !errors.Is(got, tc.err) && tc.err != gorm.ErrRecordNotFound && tc.err != badUUID {
				t.Fatalf("cause lost: %v", got)
			}
		})
	}

	if got := classify(quiet, "test", fmt.Errorf("delete: %w", badUUID), "device 7"); strings.Contains(got.Error(), "invalid input syntax") {
		t.Fatalf("malformed id must not leak the database message: %v", got)
	}

	if got := classify(quiet, "test", context.Canceled, "x"); got != context.Canceled {
		t.Fatalf("context errors pass through unchanged, got %v", got)
	}
}

func TestApplyDevicePatch_KeepsUnsetColumns(t *testing.T) {
	house := "H1"
	row := deviceModel{
		ID:                "d1",
		Name:              "Lamp",
		TypeID:            3,
		Type:              deviceTypeModel{ID: 3, Type: "light"},
		CurrentParameters: `{"brightness":100}`,
		HouseID:           &house,
		UserID:            "U1",
		CreatedAt:         time.Unix(10, 0),
	}

	on := true
	got := applyDevicePatch(row, storage.DevicePatch{Status: &on})

	if !got.Status || got.Name != "Lamp" || got.HouseID == nil || *got.HouseID != "H1" || got.CurrentParameters != `{"brightness":100}` {
		t.Fatalf("patched row = %+v", got)
	}

	if got.TypeID != 3 || !got.CreatedAt.Equal(row.CreatedAt) {
		t.Fatalf("patch touched columns it does not own: %+v", got)
	}

	if dev := got.toDevice(); dev.Type != "light" || dev.ID != "d1" {
		t.Fatalf("toDevice = %+v", dev)
	}
}

func TestConnect_RequiresDSN(t *testing.T) {
	if _, err := Connect(t.Context(), "", nil); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
