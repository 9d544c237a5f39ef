package main

import goos "os"

type runner struct{}

func (runner) Exit(code int) {}

func main() {
	runner{}.Exit(0)
	goos.Exit(1) // want "avoid using os.Exit in main.main"
}
