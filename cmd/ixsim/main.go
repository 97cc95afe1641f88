// Command ixsim is a command-line interface for the ion-exchange
// vessel simulation engine.
package main

import (
	"fmt"
	"os"

	"github.com/puran-water/ix-design-sim/ixutil"
)

func main() {
	cfg := ixutil.InitializeConfig()
	if err := cfg.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
