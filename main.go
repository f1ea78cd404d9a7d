package main

import (
	"github/clearid/wallet-engine/cmd"
)

func main() {
	cmd.Execute()
}
