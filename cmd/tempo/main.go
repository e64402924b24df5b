package main

import "github.com/tempolab/tempo/cmd/tempo/cmd"

func main() {
	cmd.Execute()
}
