package main

import (
	"fmt"
	"os"
	"strings"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	daemonAddr = "http://127.0.0.1:7433"
	pidFile    = "drilld.pid"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "doctor":
		err = cmdDoctor()
	case "config":
		err = cmdConfig()
	case "topics":
		err = cmdTopics()
	case "practice":
		err = cmdPractice(os.Args[2:])
	case "stats":
		err = cmdStats()
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("drill %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Drill - Seeded Practice Exercises

Usage:
  drill <command> [arguments]

Setup Commands:
  init            Initialize Drill (first-time setup)
  doctor          Check configuration and backends
  config          Show current configuration

Daemon Commands:
  start           Start the Drill daemon
  stop            Stop the Drill daemon
  status          Show daemon status
  logs            View daemon logs

Practice Commands:
  topics                        List topics and pool keys
  practice <topic> [key]        Answer exercises interactively

Analytics Commands:
  stats           Show per-topic grading statistics

Integration Commands:
  mcp             Start MCP server (for editor integration)

Other:
  help            Show this help message
  version         Show version information

Examples:
  drill start                 # Start daemon
  drill topics                # List topics
  drill practice m1.arith     # Practice arithmetic
  drill practice units conv   # Practice one pool key
  drill mcp                   # Start MCP server`)
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}
