package main

import (
	"os"

	"github.com/mysocial/bridge-relayers/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
