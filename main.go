package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	signalContext, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	rootCommand := newRootCommand()
	if executeError := rootCommand.ExecuteContext(signalContext); executeError != nil {
		stopSignals()
		os.Exit(1)
	}
}
