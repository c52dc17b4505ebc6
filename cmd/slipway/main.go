package main

import "github.com/slipway-hq/slipway/cmd/slipway/cmd"

func main() {
	cmd.Execute()
}
