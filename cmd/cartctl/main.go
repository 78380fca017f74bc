package main

import (
	"fmt"
	"os"

	"github.com/ariefcatur/go-cart-orders/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cartctl:", err)
		os.Exit(1)
	}
}
