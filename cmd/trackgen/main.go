package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/igolaizola/trackgen/pkg/cli"
	"github.com/joho/godotenv"
)

// Build flags
var version = ""
var commit = ""
var date = ""

func main() {
	// Environment variables from an optional .env file
	_ = godotenv.Load()

	// Create signal based context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Launch command
	cmd := cli.New(version, commit, date)
	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
