package main

import "github.com/iksnae/synthshot/cmd"

func main() {
	cmd.Execute()
}
