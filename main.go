package main

import "github.com/tanq16/danzo-agent/cmd"

func main() {
	cmd.Execute()
}
