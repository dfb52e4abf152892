package main

import "ytbatch/cmd"

func main() {
	cmd.Execute()
}
