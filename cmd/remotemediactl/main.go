package main

import "github.com/matbeedotcom/remotemedia-sdk-sub004/cmd/remotemediactl/cmd"

func main() {
	cmd.Execute()
}
