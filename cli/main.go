package main

import "southwinds.dev/memo/cli/cmd"

func main() {
	cmd.Execute()
}
