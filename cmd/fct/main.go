package main

import "github.com/OpenTraceLab/OpenTraceFCT/cmd/fct/cmd"

func main() {
	cmd.Execute()
}
