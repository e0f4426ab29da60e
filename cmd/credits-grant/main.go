package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"leadflow_backend/internal/credits"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/logger"
)

func main() {
	domain := flag.String("domain", "", "email domain to credit, e.g. acme.io")
	amount := flag.Int64("amount", 0, "credits to add")
	note := flag.String("note", "", "free-form note stored on the ledger entry")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)

	d := strings.ToLower(strings.TrimSpace(*domain))
	if d == "" || *amount <= 0 {
		fmt.Fprintln(os.Stderr, "usage: credits-grant -domain acme.io -amount 100 [-note text]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	svc := credits.NewService(credits.NewRepository(pool), cfg, nil, nil, log)
	balance, err := svc.Add(ctx, d, *amount, credits.ReasonManualGrant, map[string]any{
		"granted_by": "cli",
		"note":       *note,
	})
	if err != nil {
		log.Error("credit grant failed", "domain", d, "error", err)
		os.Exit(1)
	}
	log.Info("credits granted", "domain", d, "amount", *amount, "balance", balance)
}
