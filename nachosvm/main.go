// Package main is the entry of the nachosvm command.
package main

import "github.com/sarchlab/nachosvm/nachosvm/cmd"

func main() {
	cmd.Execute()
}
