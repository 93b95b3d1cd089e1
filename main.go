package main

import "github.com/jetstack/sealer/cmd"

func main() {
	cmd.Execute()
}
