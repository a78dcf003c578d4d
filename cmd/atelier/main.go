package main

import "github.com/atelier-dev/atelier/internal/cmd"

func main() {
	cmd.Execute()
}
