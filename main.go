package main

import "github.com/wagate/wa-gateway/cmd"

func main() {
	cmd.Execute()
}
