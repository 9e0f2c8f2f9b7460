// Command relbind validates relation schemas, runs binding scenarios and
// inspects SQLite stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/relbind/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := cli.NewRootCommand().ExecuteContext(ctx)
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Usage errors from cobra: unknown flags, wrong argument counts.
		fmt.Fprintln(os.Stderr, "Error:", err)
		err = cli.WrapExitError(cli.ExitCommandError, "usage", err)
	}
	return cli.GetExitCode(err)
}
