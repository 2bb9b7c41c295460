// Package main: точка входа homecam-relay (API, сигналинг и медиа-ретранслятор).
package main

import (
	"log"

	"github.com/psds-microservice/homecam-relay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
