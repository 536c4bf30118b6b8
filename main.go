// hostterm - terminal client for remote host management: interactive
// shells over ticket-authenticated WebSockets and session replay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hostterm/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hostterm: %v\n", err)
		os.Exit(1)
	}
}
