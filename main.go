package main

import "github.com/copperlabs/engine/cmd"

func main() {
	cmd.Execute()
}
