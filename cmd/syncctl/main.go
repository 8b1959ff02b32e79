// Command syncctl publishes replenishment demand from the planning store
// into the ERP staging tables, once or on a schedule.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
