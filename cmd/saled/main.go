package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"crowdsale/services/saled"
)

func main() {
	cfgPath := flag.String("config", "saled.yaml", "path to saled configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := saled.Run(ctx, *cfgPath); err != nil {
		log.Fatalf("%v", err)
	}
}
