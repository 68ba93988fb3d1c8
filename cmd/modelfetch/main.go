package main

import "modelfetch/cmd/modelfetch/cmd"

func main() {
	cmd.Execute()
}
