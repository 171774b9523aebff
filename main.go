/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/volta/engine"
	"github.com/spaghettifunk/volta/testbed"
)

func main() {
	e, err := engine.New("volta.toml", testbed.SetupGraph)
	if err != nil {
		panic(err)
	}

	if err := e.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		_ = e.Shutdown()
	}()

	// run engine
	if err := e.Run(); err != nil {
		panic(err)
	}
}
