package main

import "purchase-ingest/internal/cli"

func main() {
	cli.Execute()
}
