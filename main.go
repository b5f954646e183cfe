package main

import (
	"os"

	"github.com/Swapica/order-ledger-svc/internal/cli"
)

func main() {
	if !cli.Run(os.Args) {
		os.Exit(1)
	}
}
