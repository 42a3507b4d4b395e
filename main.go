package main

import "github.com/Factoryleader/gdc-client/cmd"

func main() {
	cmd.Execute()
}
