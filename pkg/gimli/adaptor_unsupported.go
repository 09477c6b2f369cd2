//go:build !(linux && amd64)

package gimli

import "github.com/sirupsen/logrus"

// unsupportedAdaptor keeps the package building on platforms that have no
// process-control implementation yet; attach fails cleanly.
type unsupportedAdaptor struct{}

// NewOSAdaptor returns the adaptor for this platform.
func NewOSAdaptor(log *logrus.Entry) OSAdaptor {
	return unsupportedAdaptor{}
}

func (unsupportedAdaptor) Attach(pid int) ([]ThreadState, error) {
	return nil, ErrThreadDebuggerInitFailed
}

func (unsupportedAdaptor) Detach() error { return nil }

func (unsupportedAdaptor) ReadMem(addr Addr, dest []byte) int { return 0 }

func (unsupportedAdaptor) EnumMappings() ([]RawMapping, error) { return nil, nil }

func (unsupportedAdaptor) RegAddr(cur *Cursor, col int) *uint64 {
	if col < 0 || col >= RegSlots {
		return nil
	}
	return &cur.st.Regs[col]
}

func (unsupportedAdaptor) IsSignalFrame(cur *Cursor) bool {
	return cur.st.PC == ^Addr(0)
}

func (unsupportedAdaptor) ProcStat() (ProcStat, error) {
	return ProcStat{}, ErrCheckErrno
}
