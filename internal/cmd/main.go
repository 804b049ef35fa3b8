// Package cmd holds settings shared by the picfetch binaries.
package cmd

import (
	"time"
)

// Http timeouts
const (
	ReadTimeout    = 10 * time.Second
	WriteTimeout   = 90 * time.Second
	IdleTimeout    = 120 * time.Second
	HandlerTimeout = 75 * time.Second
)
