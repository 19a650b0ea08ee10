package main

import "github.com/audiolibrelab/audiocomments/cmd"

func main() {
	cmd.Execute()
}
