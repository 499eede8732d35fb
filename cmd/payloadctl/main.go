// Command payloadctl is an operator console for Payload Core.
//
// With no arguments it starts an interactive shell; otherwise the
// arguments are run as a single command.
//
// Usage:
//
//	payloadctl [flags] [command [args...]]
//
// Flags:
//
//	-api string      Payload Core API address (default "http://127.0.0.1:8080")
//	-key string      Operator or observer key (default $PAYLOAD_CTL_KEY)
//	-client string   Client name recorded in the access token
//	-timeout dur     Per-request timeout (default 2m)
//
// Examples:
//
//	payloadctl -key $KEY capture 1500 fast
//	payloadctl -key $KEY zoom 128
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

func main() {
	api := flag.String("api", "http://127.0.0.1:8080", "Payload Core API address")
	key := flag.String("key", os.Getenv("PAYLOAD_CTL_KEY"), "Operator or observer key")
	name := flag.String("client", defaultClientName(), "Client name recorded in the access token")
	timeout := flag.Duration("timeout", 2*time.Minute, "Per-request timeout")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := NewClient(*api, *key, *name, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	shell := NewShell(client, os.Stdout)

	if args := flag.Args(); len(args) > 0 {
		if err := shell.Exec(ctx, args); err != nil && !errors.Is(err, errQuit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := shell.Interactive(ctx, historyPath()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultClientName() string {
	host, err := os.Hostname()
	if err != nil {
		return "payloadctl"
	}
	return "payloadctl@" + host
}

func historyPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".payloadctl_history")
}
