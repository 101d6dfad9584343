package main

import "github.com/javi11/mediajanitor/cmd/janitor/cmd"

func main() {
	cmd.Execute()
}
