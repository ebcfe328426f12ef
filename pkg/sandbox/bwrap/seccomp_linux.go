//go:build linux && (amd64 || arm64)

package bwrap

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// seccomp_data offsets.
const (
	offsetNr   = 0
	offsetArch = 4
)

const (
	retKillProcess = 0x80000000
	retErrno       = 0x00050000
	retAllow       = 0x7fff0000
)

// deniedSyscalls fail with EPERM under the Seccomp restriction.
var deniedSyscalls = []uint32{
	unix.SYS_MOUNT,
	unix.SYS_UMOUNT2,
	unix.SYS_PIVOT_ROOT,
	unix.SYS_PTRACE,
	unix.SYS_PROCESS_VM_READV,
	unix.SYS_PROCESS_VM_WRITEV,
	unix.SYS_KEXEC_LOAD,
	unix.SYS_KEXEC_FILE_LOAD,
	unix.SYS_INIT_MODULE,
	unix.SYS_FINIT_MODULE,
	unix.SYS_DELETE_MODULE,
	unix.SYS_REBOOT,
	unix.SYS_SWAPON,
	unix.SYS_SWAPOFF,
	unix.SYS_ACCT,
	unix.SYS_SETTIMEOFDAY,
	unix.SYS_BPF,
	unix.SYS_PERF_EVENT_OPEN,
	unix.SYS_KEYCTL,
	unix.SYS_ADD_KEY,
	unix.SYS_REQUEST_KEY,
	unix.SYS_USERFAULTFD,
	unix.SYS_OPEN_BY_HANDLE_AT,
	unix.SYS_PERSONALITY,
	unix.SYS_SETNS,
}

func stmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func jump(code uint16, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// denyListFilter assembles the classic BPF program: kill on a foreign
// architecture (and the x32 ABI on amd64), EPERM for each denied syscall,
// allow everything else.
func denyListFilter() []unix.SockFilter {
	prog := []unix.SockFilter{
		stmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, offsetArch),
		jump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, auditArch, 1, 0),
		stmt(unix.BPF_RET|unix.BPF_K, retKillProcess),
		stmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, offsetNr),
	}
	if x32SyscallBit != 0 {
		prog = append(prog,
			jump(unix.BPF_JMP|unix.BPF_JGE|unix.BPF_K, x32SyscallBit, 0, 1),
			stmt(unix.BPF_RET|unix.BPF_K, retKillProcess),
		)
	}
	for _, nr := range deniedSyscalls {
		prog = append(prog,
			jump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, nr, 0, 1),
			stmt(unix.BPF_RET|unix.BPF_K, retErrno|uint32(unix.EPERM)),
		)
	}
	return append(prog, stmt(unix.BPF_RET|unix.BPF_K, retAllow))
}

// DenyListProgram serializes the filter as the struct sock_filter array
// bwrap --seccomp expects.
func DenyListProgram() ([]byte, error) {
	prog := denyListFilter()
	out := make([]byte, 0, len(prog)*8)
	for _, ins := range prog {
		out = binary.NativeEndian.AppendUint16(out, ins.Code)
		out = append(out, ins.Jt, ins.Jf)
		out = binary.NativeEndian.AppendUint32(out, ins.K)
	}
	return out, nil
}
