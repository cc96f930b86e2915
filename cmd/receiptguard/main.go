// Command receiptguard screens payment receipts for fraud
package main

import (
	"fmt"
	"os"

	"github.com/ppiankov/receiptguard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
