package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"attendbot/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	// Tell systemd we're up (no-op outside a Type=notify unit).
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := a.Run(ctx); err != nil {
		fmt.Println("fatal start:", err)
		a.Shutdown()
		os.Exit(1)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.Shutdown()
}
