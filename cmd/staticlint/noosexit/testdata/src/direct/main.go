package main

import (
	"fmt"
	"os"
)

func main() {
	defer fmt.Println("cleanup")
	os.Exit(1) // want "avoid using os.Exit in main.main"
}

func fail() {
	os.Exit(2)
}

func init() {
	go func() {
		os.Exit(3)
	}()
}
