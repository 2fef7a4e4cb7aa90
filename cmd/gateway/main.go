// Package main starts the gateway process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	gatewaycmd "github.com/next-trace/scg-device-relay/internal/cmd/gateway"
)

func main() {
	cfg, err := gatewaycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	log.SetPrefix("[GATEWAY] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gatewaycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("run: %v", err)
	}
}
