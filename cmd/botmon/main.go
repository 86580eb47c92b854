package main

import "github.com/muliwe/botmon/internal/cmd"

func main() {
	cmd.Execute()
}
