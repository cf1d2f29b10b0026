// Command agent is the dispatcher's CLI front-end: a thin wrapper that
// loads a config file and drives an AgentSession through one of two
// subcommands, register or run.
//
// Usage:
//
//	agent -config=/etc/faraday/dispatcher.cfg register
//	agent -config=/etc/faraday/dispatcher.cfg run
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/doyler/faraday-agent-dispatcher/internal/config"
	"github.com/doyler/faraday-agent-dispatcher/internal/dispatcher"
)

func main() {
	configPath := flag.String("config", os.Getenv("FARADAY_AGENT_CONFIG"), "path to the dispatcher config file")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: agent -config=<path> <register|run>")
		os.Exit(2)
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "-config is required")
		os.Exit(2)
	}

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	sess := dispatcher.New(cfg, log)

	switch cmd := flag.Arg(0); cmd {
	case "register":
		if err := sess.Register(*configPath); err != nil {
			log.WithError(err).Fatal("registration failed")
		}
	case "run":
		if err := sess.Register(*configPath); err != nil {
			log.WithError(err).Fatal("registration failed")
		}
		if err := sess.Connect(); err != nil {
			log.WithError(err).Fatal("failed to connect")
		}
		defer sess.Shutdown()
		if err := sess.Serve(); err != nil {
			log.WithError(err).Fatal("agent terminated")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q: want register or run\n", cmd)
		os.Exit(2)
	}
}
