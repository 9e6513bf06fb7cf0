package main

import "github.com/kalendae/meeting-insights/cmd"

func main() {
	cmd.Execute()
}
