//go:build !unix

package process

import "os/exec"

// setProcessGroup is a no-op on platforms without process groups, the
// default CommandContext kill of the direct child is the best available.
func setProcessGroup(cmd *exec.Cmd) {}
