// Command avitosentry is the single entrypoint for both process roles:
// set AVITOSENTRY_MODE=supervisor to run the fleet manager, or
// AVITOSENTRY_MODE=worker to run one crawl worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wisbric/avitosentry/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "avitosentry:", err)
		os.Exit(1)
	}
}
