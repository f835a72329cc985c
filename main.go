package main

import (
	"log"

	"github.com/spigell/jobpilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
