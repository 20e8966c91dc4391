//go:build !unix

package process

import "os/exec"

// configureProcessGroup is a no-op where process groups are unavailable;
// exec.CommandContext kills only the direct child.
func configureProcessGroup(*exec.Cmd) {}
