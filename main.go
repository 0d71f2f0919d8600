package main

import "github.com/relaydesk/graphgate/cmd"

func main() {
	cmd.Execute()
}
