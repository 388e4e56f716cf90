package main

import (
	"os"

	"github.com/kebairia/smb-snapshots/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
