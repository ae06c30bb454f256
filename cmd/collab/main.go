// Package main starts the collab real-time service and handles termination.
//
// The process serves live canvas rooms and their replays; identity comes
// from signed launch tokens issued elsewhere.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	collabcmd "github.com/louisbranch/drawroom/internal/cmd/collab"
)

func main() {
	cfg, err := collabcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[COLLAB] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := collabcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
