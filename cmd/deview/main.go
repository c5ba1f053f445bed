package main

import "github.com/petabi/deview/cmd/deview/cmd"

func main() {
	cmd.Execute()
}
