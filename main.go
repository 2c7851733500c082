package main

import "github.com/guimove/seqpack/cmd"

func main() {
	cmd.Execute()
}
