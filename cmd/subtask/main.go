package main

import "github.com/subtask-dev/subtask/cmd/subtask/cmd"

func main() {
	cmd.Execute()
}
