package tracer

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/wez/gimli/pkg/config"
	"github.com/wez/gimli/pkg/gimli"
	"github.com/wez/gimli/pkg/heartbeat"
	"github.com/wez/gimli/pkg/utils"
)

// Tracer attaches to a stopped worker, walks every thread's stack and
// writes a human-readable trace to Out. Diagnostics that are not part of the
// trace go to Diag.
type Tracer struct {
	Log    *logrus.Entry
	Config *config.AppConfig
	Out    io.Writer
	Diag   io.Writer
}

// NewTracer bootstraps a tracer against stdout/stderr.
func NewTracer(log *logrus.Entry, config *config.AppConfig) *Tracer {
	return &Tracer{
		Log:    log,
		Config: config,
		Out:    os.Stdout,
		Diag:   os.Stderr,
	}
}

// Trace runs one complete trace of the target pid. Attach failures are
// fatal; everything downstream degrades per the engine's error policy.
func (t *Tracer) Trace(pid int) error {
	adaptor := gimli.NewOSAdaptor(t.Log)
	proc, err := gimli.Attach(pid, adaptor, t.Log)
	if err != nil {
		return err
	}
	defer proc.Delete()

	t.Log.WithField("pid", pid).Info("attached")

	reg := gimli.NewModuleRegistry()
	reg.Diag = t.Diag
	api := gimli.NewApi(proc, reg)

	if !t.Config.UserConfig.Modules.Disabled {
		reg.DiscoverModules(api)
	}

	t.header(proc)

	if t.Config.UserConfig.Trace.ShowMemoryMap {
		proc.ShowMemoryMap(t.Out)
	}

	for _, th := range proc.Threads() {
		t.traceThread(api, th)
	}

	// modules that perform their own tracing run after the stacks
	reg.HookVisit("tracer", func(e gimli.HookEntry) gimli.IterStatus {
		if fn, ok := e.Fn.(gimli.TracerFunc); ok {
			fn(proc, e.Arg)
		}
		return gimli.IterCont
	})

	return nil
}

func (t *Tracer) header(proc *gimli.Proc) {
	stat := proc.Stat()
	title := color.New(color.Bold)

	fmt.Fprintf(t.Out, "%s\n", utils.ColoredStringDirect(
		fmt.Sprintf("Trace of pid %d generated at %s", stat.Pid,
			time.Now().Format(time.UnixDate)), title))
	fmt.Fprintf(t.Out, "Virtual size %d, RSS %d\n", stat.Size, stat.RSS)

	if hbFile := t.Config.UserConfig.Trace.HeartbeatFile; hbFile != "" {
		hb, err := heartbeat.ReadFile(hbFile)
		if err != nil {
			fmt.Fprintf(t.Diag, "unable to read heartbeat segment %s: %v\n", hbFile, err)
		} else {
			fmt.Fprintf(t.Out, "Worker heartbeat: %s, %d ticks\n", hb.StateName(), hb.Ticks)
		}
	}
}

// collectFrames walks one thread's stack to its end or the configured frame
// cap. Frame 0 is top of stack.
func (t *Tracer) collectFrames(proc *gimli.Proc, th gimli.ThreadState) []*gimli.StackFrame {
	maxFrames := t.Config.UserConfig.Trace.MaxFrames
	if maxFrames <= 0 {
		maxFrames = 256
	}

	cur := proc.InitUnwind(th)
	frames := []*gimli.StackFrame{cur.Frame()}
	for len(frames) < maxFrames && cur.Step() {
		if cur.State().PC == 0 {
			break
		}
		frames = append(frames, cur.Frame())
	}
	return frames
}

func (t *Tracer) traceThread(api *gimli.Api, th gimli.ThreadState) {
	proc := api.Proc()
	reg := api.Registry()
	frames := t.collectFrames(proc, th)

	suppressed := reg.HookVisit("begin_thread", func(e gimli.HookEntry) gimli.IterStatus {
		if fn, ok := e.Fn.(gimli.ThreadFunc); ok {
			return fn(proc, th.LWP, frames, e.Arg)
		}
		return gimli.IterCont
	}) == gimli.IterStop

	if !suppressed {
		fmt.Fprintf(t.Out, "\n%s\n", utils.ColoredString(
			fmt.Sprintf("Thread (LWP %d)", th.LWP), color.FgCyan))
		for _, frame := range frames {
			t.emitFrame(api, frame)
		}
	}

	reg.HookVisit("end_thread", func(e gimli.HookEntry) gimli.IterStatus {
		if fn, ok := e.Fn.(gimli.ThreadFunc); ok {
			return fn(proc, th.LWP, frames, e.Arg)
		}
		return gimli.IterCont
	})
}

func (t *Tracer) emitFrame(api *gimli.Api, frame *gimli.StackFrame) {
	proc := api.Proc()
	reg := api.Registry()

	suppressed := reg.HookVisit("before_frame", func(e gimli.HookEntry) gimli.IterStatus {
		if fn, ok := e.Fn.(gimli.FrameFunc); ok {
			return fn(proc, frame, e.Arg)
		}
		return gimli.IterCont
	}) == gimli.IterStop
	if suppressed {
		return
	}

	label := proc.PcSymName(frame.PC())
	if label == "" {
		label = fmt.Sprintf("0x%x", uint64(frame.PC()))
	}
	line := fmt.Sprintf("#%-2d %s", frame.FrameNo, label)
	if file, lineno, ok := proc.SourceInfo(frame.PC()); ok {
		line = fmt.Sprintf("%s (%s:%d)", line, file, lineno)
	}
	fmt.Fprintln(t.Out, line)

	if t.Config.UserConfig.Trace.PrintParams {
		for _, param := range frame.Params() {
			t.emitVar(api, frame, param)
		}
	}

	reg.HookVisit("after_frame", func(e gimli.HookEntry) gimli.IterStatus {
		if fn, ok := e.Fn.(gimli.FrameFunc); ok {
			return fn(proc, frame, e.Arg)
		}
		return gimli.IterCont
	})
}

func (t *Tracer) emitVar(api *gimli.Api, frame *gimli.StackFrame, param gimli.Param) {
	proc := api.Proc()
	reg := api.Registry()

	visitVar := func(event string) gimli.IterStatus {
		return reg.HookVisit(event, func(e gimli.HookEntry) gimli.IterStatus {
			if fn, ok := e.Fn.(gimli.VarPrinterFunc); ok {
				return fn(proc, frame, param.Name, param.Type, param.Addr, 0, e.Arg)
			}
			return gimli.IterCont
		})
	}

	if visitVar("var_printer") == gimli.IterStop {
		return
	}

	declname := "<optimized out>"
	if param.Type != nil {
		declname = param.Type.Declname()
	}
	value := t.renderParam(proc, param)
	fmt.Fprintf(t.Out, "%s%s %s = %s\n", indent(1), declname, param.Name, value)

	visitVar("after_var")
}

func (t *Tracer) renderParam(proc *gimli.Proc, param gimli.Param) string {
	if param.Type == nil || param.Addr == 0 {
		return "<optimized out>"
	}
	maxString := t.Config.UserConfig.Trace.MaxStringLength
	return renderValue(proc, param.Type, param.Addr, maxString)
}
