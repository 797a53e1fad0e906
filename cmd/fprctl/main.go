// fprctl is the CLI client for the fprd daemon.
package main

import "github.com/dantte-lp/fpr/cmd/fprctl/commands"

func main() {
	commands.Execute()
}
