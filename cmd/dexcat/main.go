package main

import "github.com/apk-analysis/dexcatalog/internal/cli"

func main() {
	cli.Execute()
}
