package main

import "github.com/vietddude/transync/internal/cli"

func main() {
	cli.Execute()
}
