// gobspctl -- CLI client for the gobsp daemon.
package main

import "github.com/nettrail/gobsp/cmd/gobspctl/commands"

func main() {
	commands.Execute()
}
