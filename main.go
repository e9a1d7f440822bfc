// The main package for the compintel executable.
package main

import (
	"github.com/JakeFAU/compintel-monitor/cmd"
)

func main() {
	cmd.Execute()
}
