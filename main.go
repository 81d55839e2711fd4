package main

import (
	"math/rand"
	"time"

	"github.com/luma/resplink/cmd"
)

func main() {
	// Reconnect jitter draws from the global source
	rand.Seed(time.Now().UnixNano())

	cmd.Execute()
}
