// Package main starts the devices process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	devicescmd "github.com/next-trace/scg-device-relay/internal/cmd/devices"
)

func main() {
	cfg, err := devicescmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	log.SetPrefix("[DEVICES] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := devicescmd.Run(ctx, cfg); err != nil {
		log.Fatalf("run: %v", err)
	}
}
