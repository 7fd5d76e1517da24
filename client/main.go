package main

import (
	"flag"
	"fmt"
	"os"

	"sechat-client/ui"
)

func main() {
	serverAddr := flag.String("server", "localhost:8765", "sechat relay address (host:port)")
	flag.Parse()

	app := ui.NewApp(*serverAddr)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
