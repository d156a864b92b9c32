// Command murmurctl inspects and maintains murmur's local history and
// failed recordings.
//
// Usage:
//
//	murmurctl [--json] history list [--page N] [--size N]
//	murmurctl [--json] history search <query>
//	murmurctl history clear
//	murmurctl [--json] failed list
//	murmurctl failed retry <id>
//	murmurctl failed delete <id>|--all
//
// The database is opened exclusively, so the desktop app must not be running.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
