package main

import "github.com/dusterbloom/nanobot/cmd"

func main() {
	cmd.Execute()
}
