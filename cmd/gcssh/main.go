package main

import (
	"github.com/uavtalks/telem.go/pkg/cli/sh"

	_ "github.com/uavtalks/telem.go/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func main() {
	sh.Main()
}
