// Package main provides the checkpoint inspection CLI and server.
package main

import "github.com/yueduduo/pth-viewer/cmd/pth-viewer/cmd"

func main() {
	cmd.Execute()
}
