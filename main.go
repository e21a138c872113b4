package main

import "github.com/open-feature/flagwatch/cmd"

func main() {
	cmd.Execute()
}
