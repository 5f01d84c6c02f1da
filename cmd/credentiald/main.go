package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	credentialcmd "github.com/quantauth/quantauth/internal/cmd/credentiald"
	"github.com/quantauth/quantauth/internal/platform/otel"
)

func main() {
	cfg, err := credentialcmd.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[CREDENTIALD] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "quantauth-credentiald")
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Printf("shutdown tracing: %v", err)
			}
		}()
	}

	if err := credentialcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
