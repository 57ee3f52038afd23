package main

import (
	"github.com/caesium-cloud/fanout/cmd"
	"github.com/caesium-cloud/fanout/pkg/env"
	"github.com/caesium-cloud/fanout/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("fanout failure", "error", err)
	}
}
