package main

import "github.com/broadcomms/meeting-ledger/internal/cli"

func main() {
	cli.Execute()
}
