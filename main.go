package main

import (
	"github.com/txmigrate/txmigrate/cmd"
)

func main() {
	cmd.Execute()
}
