package main

import "github.com/riptidehq/riptide/cmd"

func main() {
	cmd.Execute()
}
