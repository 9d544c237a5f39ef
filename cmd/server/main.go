// The server binary serves the location management API.
package main

import (
	"log"

	"github.com/patric-chuzhbe/geoplaces/internal/app"
)

func main() {
	theApp, err := app.New()
	if err != nil {
		log.Fatal(err)
	}
	defer theApp.Close()

	if err := theApp.Run(); err != nil {
		log.Println(err)
	}
}
