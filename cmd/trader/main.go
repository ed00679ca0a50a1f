package main

import (
	"flag"
	"fmt"
	"os"

	"perp_trader/internal/bootstrap"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (empty runs the mock venue defaults)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trader version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		app.Logger.Error("trader exited with error", "error", err)
		os.Exit(1)
	}
}
