// Package main is a terminal client for the realtime endpoint: it signs in, prints presence,
// notifications and video events, and can send typing indicators.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
