package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tunnelguard/pkg/admin"
	"tunnelguard/pkg/guard"
	"tunnelguard/pkg/log"
	"tunnelguard/pkg/manage"

	"github.com/urfave/cli/v2"
)

var upCommand = &cli.Command{
	Name:        "up",
	Usage:       "starts the tunnelguard daemon",
	Description: `loads the restrictions file and serves policy decisions, the admin API and the management socket`,
	Action: func(c *cli.Context) error {
		up()
		return nil
	},
}

func up() {
	cfg, err := guard.LoadConfig(true)
	if err != nil {
		log.SetConsole()
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.MustInit("tunnelguard", cfg.ConsoleLog)
	defer log.Close()
	log.Printf("starting tunnelguard %s", Version)

	g, err := guard.New(cfg)
	if err != nil {
		// The service must not start without a valid rule set.
		log.Fatalf("Failed to load restrictions: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := g.WatchRules(ctx); err != nil {
		log.Fatalf("Failed to watch restrictions file: %v", err)
	}

	mgmt := manage.NewServer("tunnelguard", cfg.ManagementPasswd)
	g.RegisterManagement(mgmt)
	if err := mgmt.Start(); err != nil {
		log.Fatalf("Failed to start management server: %v", err)
	}
	defer mgmt.Stop()

	api := admin.NewAPI(g, cfg.APIListenAddr)
	go api.Run()
	log.Printf("admin API listening on %s", cfg.APIListenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("received signal %s, shutting down", sig)
}
