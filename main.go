package main

import "acs-pipeline/cmd"

func main() {
	cmd.Execute()
}
