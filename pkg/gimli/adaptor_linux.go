//go:build linux && amd64

package gimli

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// linuxAdaptor drives a stopped target through ptrace. Threads are found via
// /proc/<pid>/task and each one is attached individually so that register
// fetch and the final detach cover the whole thread group.
type linuxAdaptor struct {
	pid  int
	tids []int
	log  *logrus.Entry
}

// NewOSAdaptor returns the adaptor for this platform.
func NewOSAdaptor(log *logrus.Entry) OSAdaptor {
	return &linuxAdaptor{log: log}
}

func (a *linuxAdaptor) Attach(pid int) ([]ThreadState, error) {
	a.pid = pid

	tids, err := listThreads(pid)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoProc
		}
		return nil, ErrThreadDebuggerInitFailed
	}
	if len(tids) == 0 {
		tids = []int{pid}
	}

	var threads []ThreadState
	for _, tid := range tids {
		if err := unix.PtraceAttach(tid); err != nil {
			switch err {
			case unix.ESRCH:
				// thread exited between enumeration and attach
				if tid != pid {
					continue
				}
				a.Detach()
				return nil, ErrNoProc
			case unix.EPERM:
				a.Detach()
				return nil, ErrPerm
			default:
				a.Detach()
				return nil, ErrCheckErrno
			}
		}
		if err := waitStopped(tid); err != nil {
			a.log.WithError(err).WithField("tid", tid).Debug("wait for stop failed")
			a.Detach()
			return nil, ErrCheckErrno
		}
		a.tids = append(a.tids, tid)

		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(tid, &regs); err != nil {
			a.log.WithError(err).WithField("tid", tid).Debug("getregs failed")
			continue
		}
		threads = append(threads, regsToThread(&regs, tid))
	}

	if len(threads) == 0 {
		a.Detach()
		return nil, ErrThreadDebuggerInitFailed
	}
	return threads, nil
}

func (a *linuxAdaptor) Detach() error {
	for _, tid := range a.tids {
		if err := unix.PtraceDetach(tid); err != nil && err != unix.ESRCH {
			a.log.WithError(err).WithField("tid", tid).Debug("detach failed")
		}
	}
	a.tids = nil
	return nil
}

func (a *linuxAdaptor) ReadMem(addr Addr, dest []byte) int {
	// Read word-at-a-time so that a fault partway through still yields the
	// readable prefix.
	total := 0
	for total < len(dest) {
		n := len(dest) - total
		if n > 8 {
			n = 8
		}
		got, err := unix.PtracePeekData(a.pid, uintptr(addr)+uintptr(total), dest[total:total+n])
		total += got
		if err != nil || got == 0 {
			return total
		}
	}
	return total
}

func (a *linuxAdaptor) EnumMappings() ([]RawMapping, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", a.pid))
	if err != nil {
		return nil, ErrNoProc
	}

	var maps []RawMapping
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		name := fields[5]
		if !strings.HasPrefix(name, "/") {
			// anonymous and special kernel mappings carry no object file
			continue
		}
		rng := strings.SplitN(fields[0], "-", 2)
		if len(rng) != 2 {
			continue
		}
		base, err1 := strconv.ParseUint(rng[0], 16, 64)
		end, err2 := strconv.ParseUint(rng[1], 16, 64)
		offset, err3 := strconv.ParseUint(fields[2], 16, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		maps = append(maps, RawMapping{
			Name:   name,
			Base:   Addr(base),
			Len:    end - base,
			Offset: offset,
		})
	}
	return maps, nil
}

// RegAddr maps DWARF register numbering to cursor storage. ThreadState
// carries its register file in DWARF column order for this architecture, so
// the dispatch is a bounds check.
func (a *linuxAdaptor) RegAddr(cur *Cursor, col int) *uint64 {
	if col < 0 || col >= RegSlots {
		return nil
	}
	return &cur.st.Regs[col]
}

func (a *linuxAdaptor) IsSignalFrame(cur *Cursor) bool {
	return cur.st.PC == ^Addr(0)
}

func (a *linuxAdaptor) ProcStat() (ProcStat, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", a.pid))
	if err != nil {
		return ProcStat{}, ErrNoProc
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return ProcStat{}, ErrCheckErrno
	}
	pagesize := uint64(os.Getpagesize())
	size, _ := strconv.ParseUint(fields[0], 10, 64)
	rss, _ := strconv.ParseUint(fields[1], 10, 64)
	return ProcStat{Pid: a.pid, Size: size * pagesize, RSS: rss * pagesize}, nil
}

func listThreads(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	var tids []int
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids, nil
}

func waitStopped(tid int) error {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(tid, &status, unix.WALL|unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

func regsToThread(r *unix.PtraceRegs, tid int) ThreadState {
	var st ThreadState
	// DWARF register numbering for x86-64
	st.Regs[0] = r.Rax
	st.Regs[1] = r.Rdx
	st.Regs[2] = r.Rcx
	st.Regs[3] = r.Rbx
	st.Regs[4] = r.Rsi
	st.Regs[5] = r.Rdi
	st.Regs[6] = r.Rbp
	st.Regs[7] = r.Rsp
	st.Regs[8] = r.R8
	st.Regs[9] = r.R9
	st.Regs[10] = r.R10
	st.Regs[11] = r.R11
	st.Regs[12] = r.R12
	st.Regs[13] = r.R13
	st.Regs[14] = r.R14
	st.Regs[15] = r.R15
	st.Regs[16] = r.Rip
	st.PC = Addr(r.Rip)
	st.SP = Addr(r.Rsp)
	st.FP = Addr(r.Rbp)
	st.LWP = tid
	return st
}
