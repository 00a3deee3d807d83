package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/smsirc/smsirc/internal/config"
	"github.com/smsirc/smsirc/internal/modem"
	"github.com/smsirc/smsirc/internal/store"
	"github.com/smsirc/smsirc/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to smsirc config (default: "+config.DefaultConfigPath()+")")
	databasePath := flag.String("db", "", "override smsirc sqlite database path (defaults to config value)")
	flag.Parse()

	if *configPath == "" {
		*configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *databasePath != "" {
		cfg.DBPath = *databasePath
	}

	if err := config.EnsureDir(cfg.DBPath); err != nil {
		fmt.Fprintf(os.Stderr, "create data dir: %v\n", err)
		os.Exit(1)
	}

	log.Printf("opening database at %s", cfg.DBPath)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sup := supervisor.New(cfg, st)
	if err := sup.Run(ctx, modem.NewLogDriver()); err != nil {
		fmt.Fprintf(os.Stderr, "supervisor error: %v\n", err)
		os.Exit(1)
	}
}
