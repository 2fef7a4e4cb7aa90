// Package main starts the telemetry process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	telemetrycmd "github.com/next-trace/scg-device-relay/internal/cmd/telemetry"
)

func main() {
	cfg, err := telemetrycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	log.SetPrefix("[TELEMETRY] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetrycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("run: %v", err)
	}
}
