package main

import (
	"log"

	"github.com/menudeck/webhooks/cmd/hookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
