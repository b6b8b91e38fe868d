package main

import "ledgermail/backend/internal/cli"

func main() {
	cli.Execute()
}
