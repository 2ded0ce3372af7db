// The main package for the collector executable.
package main

import (
	"github.com/reviewsignal/collector/cmd"
)

func main() {
	cmd.Execute()
}
