package supervisor

import (
	"os/exec"
	"syscall"
)

// startInNewGroup configures cmd to run in a new process group (Setpgid;
// no new session is created) so
// the Supervisor can signal the whole tree rather than only the direct
// child, per spec §4.D.2 step 7.
func startInNewGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the process group led by pid. pid must be the
// group leader, which holds for any process started via
// startInNewGroup.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}
