// Package main runs the warehouse agent: it connects the Bluetooth label
// printer and barcode scanner, keeps the local product and task store in sync
// with the warehouse API, and serves the floor client over WebSocket.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotside-studios/warehouse-agent/buildinfo"
	"github.com/dotside-studios/warehouse-agent/config"
)

func main() {
	fs := flag.NewFlagSet(buildinfo.Name, flag.ExitOnError)
	showVersion := fs.Bool("version", false, "Print version information and exit")

	cfg, err := config.Parse(fs, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *showVersion {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	agent := NewAgent(cfg)

	// Run in CLI mode only if explicitly requested
	if cfg.CLI {
		if err := agent.Start(); err != nil {
			log.Fatalf("Failed to start agent: %v", err)
		}
		defer agent.Stop()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		<-sigChan
		log.Println("Shutdown signal received, stopping agent...")
		return
	}

	// Default systray mode
	app := NewSystrayApp(agent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		app.Quit()
	}()

	app.Run()
}
