// legend executes Legend execution plans.
//
// Usage:
//
//	legend serve   [--config legend.yaml] [--addr :6300]
//	legend execute --plan plan.json [--param name=value]... [--user alice]
//	legend check   --plan plan.json [--param name=value]...
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
