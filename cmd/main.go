package main

import (
	"context"
	"fmt"
	"os"
)

// defaultEndpoint is the chat service base URL baked in at build time:
//
//	go build -ldflags "-X main.defaultEndpoint=https://chat.example.com" ./cmd
var defaultEndpoint = ""

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
