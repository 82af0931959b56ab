package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/tkjaer/sping/internal/config"
	"github.com/tkjaer/sping/internal/probe"
)

func main() {
	os.Exit(run())
}

func run() int {
	args, err := config.ParseArgs()
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Setup logging
	logFile, err := config.SetupLogging(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}

	log.WithFields(log.Fields{
		"address":  args.Address,
		"count":    args.Count,
		"payload":  args.Payload,
		"parallel": args.Parallel,
	}).Debug("Starting sping")

	pm, err := probe.NewProbeManager(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create probe manager: %v\n", err)
		return 1
	}

	if !args.Json {
		fmt.Fprintf(os.Stderr, "Sending %d pings to %s with payload: %d...\n", args.Count, args.Request().Target, args.Payload)
	}

	// Set up signal handling for Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Run in a goroutine so we can handle signals
	done := make(chan error, 1)
	go func() {
		done <- pm.Run()
	}()

	// Wait for either completion or interrupt
	select {
	case err = <-done:
	case <-sigChan:
		// Outstanding probes are canceled and reported as lost
		log.Debug("Received interrupt signal, stopping...")
		pm.Stop()
		err = <-done
	}
	if err != nil {
		log.WithError(err).Error("Run failed")
		return 1
	}

	log.WithField("state", pm.State()).Debug("sping completed")
	return 0
}
