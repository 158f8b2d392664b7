package main

import "github.com/jmehdipour/license-manager/cmd"

func main() {
	cmd.Execute()
}
