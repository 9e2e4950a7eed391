package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCommand(run).Execute(); err != nil {
		slog.Error("mirror exited with error", "error", err)
		os.Exit(1)
	}
}
