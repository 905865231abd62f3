// Package all pulls in every shell command pack.
package all

import (
	_ "github.com/uavtalks/telem.go/pkg/cli/cmds/objects"
)
