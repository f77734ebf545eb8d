package main

import "github.com/jccalsado/tuition-portal/cmd"

func main() {
	cmd.Execute()
}
