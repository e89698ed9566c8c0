// The main package for the sales-ai executable.
package main

import "github.com/hackjpnteam/sales-ai/cmd"

func main() {
	cmd.Execute()
}
