// cmd/wachatctl/main.go
//
// Operator CLI.  See internal/cli for commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/yanizio/wachat/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.Execute(ctx, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "wachatctl:", err)
		stop()
		os.Exit(1)
	}
}
