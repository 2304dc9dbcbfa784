// Package runtime wires every other package into one process-wide
// object: configuration, the message pool, the transport, the
// termination detector, the ActiveMessenger (and through it the
// scheduler), collectives, pipes, diagnostics, and load-balancing
// persistence — the Go analogue of original_source's
// runtime::Runtime + ComponentPack (§6 CLI surface, "Global
// singletons").
//
// Bring-up order is expressed as a dependency graph (ComponentPack)
// rather than a hand-written sequence, mirroring
// vt::runtime::component::ComponentRegistry::dependsOn<T, Deps...>().
package runtime

import (
	"fmt"
	"sync"

	"github.com/amt-rt/vt/am"
	"github.com/amt-rt/vt/cmn/config"
	"github.com/amt-rt/vt/cmn/cos"
	"github.com/amt-rt/vt/cmn/nlog"
	"github.com/amt-rt/vt/coll"
	"github.com/amt-rt/vt/diag"
	"github.com/amt-rt/vt/lb"
	"github.com/amt-rt/vt/memsys"
	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/pipe"
	"github.com/amt-rt/vt/term"
	"github.com/amt-rt/vt/xport"
)

// Runtime is the fully wired, per-rank instance: Initialize builds
// one, Finalize tears it down.
type Runtime struct {
	Config config.AppConfig
	Self   node.T
	Ranks  int

	Pool   *memsys.Pool
	Det    *term.Detector
	AM     *am.ActiveMessenger
	Coll   *coll.Manager
	Pipe   *pipe.Manager
	Diag   *diag.Stats
	LB     *lb.Writer // nil unless Config.LBData

	pack *ComponentPack
}

var (
	currentMu sync.Mutex
	current   *Runtime
)

// currentRuntime returns the process-wide Runtime set by the most
// recent successful Initialize, or nil if none is live. Mirrors
// theContext()-style singleton accessors the original exposes for
// code that can't thread a Runtime through every call.
func currentRuntime() *Runtime {
	currentMu.Lock()
	defer currentMu.Unlock()
	return current
}

func setCurrent(rt *Runtime) {
	currentMu.Lock()
	current = rt
	currentMu.Unlock()
}

// Initialize consumes --vt_* flags from argv (per §6's CLI surface),
// builds every component for self among ranks ranks atop tr, brings
// them up in dependency order, and returns the Runtime plus whatever
// argv remained unconsumed.
func Initialize(argv []string, self node.T, ranks int, tr xport.Transport) (*Runtime, []string, error) {
	cfg, rest, err := config.Load(argv, config.Default())
	if err != nil {
		return nil, nil, err
	}

	cos.ThrowOnAbort = cfg.ThrowOnAbort
	cos.NoAssertFail = cfg.NoAssertFail

	pool := memsys.NewPool(memsys.DefaultSmall, memsys.DefaultMedium, memsys.DefaultLarge)

	det := term.NewDetector(self, ranks, cfg.HangFreq)
	det.DisableHangDetection(cfg.NoDetectHang)

	diagStats := diag.New(cfg, int32(self))
	pool.OnAlloc = diagStats.RecordPoolAlloc
	pool.OnDealloc = diagStats.RecordPoolDealloc
	det.SetDiagHooks(diagStats.RecordProduce, diagStats.RecordConsume, diagStats.SetIdleRounds)
	det.SetHangHandler(func(e term.EpochT) {
		diagStats.RecordHangDetected()
		nlog.Warningf("termination hang detected on epoch %#x", uint64(e))
		if cfg.EpochGraphOnHang {
			nlog.Warningf("epoch graph: %s", det.DumpEpochGraph(e))
		}
		cos.Abort(cos.ErrHangDetected, fmt.Sprintf("epoch %#x never terminated", uint64(e)))
	})

	amCfg := am.Config{
		MaxSendSize: int(cfg.MaxMPISendSize),
		ProgressHan: cfg.SchedProgressHan,
	}
	amr := am.New(self, ranks, pool, tr, det, amCfg)

	collMgr := coll.New(amr, ranks)
	pipeMgr := pipe.New(amr)

	var lbWriter *lb.Writer
	if cfg.LBData {
		lbWriter, err = lb.CreateWriter(lb.PathFor(cfg, int32(self)))
		if err != nil {
			return nil, nil, err
		}
	}

	rt := &Runtime{
		Config: cfg,
		Self:   self,
		Ranks:  ranks,
		Pool:   pool,
		Det:    det,
		AM:     amr,
		Coll:   collMgr,
		Pipe:   pipeMgr,
		Diag:   diagStats,
		LB:     lbWriter,
	}

	pack := NewComponentPack()
	pack.Register(newFuncComponent("pool", nil, nil, nil))
	pack.Register(newFuncComponent("detector", nil, nil, func() int { det.Poll(); return 0 }), "pool")
	pack.Register(newFuncComponent("messenger", nil, nil, func() int { return amr.Progress() }), "detector")
	pack.Register(newFuncComponent("diag", nil, func() error { return rt.flushDiagSummary() }, nil), "messenger")
	pack.Register(newFuncComponent("lb", nil, func() error {
		if lbWriter == nil {
			return nil
		}
		if err := lbWriter.Close(); err != nil {
			return err
		}
		if cfg.LBDataRetention > 0 {
			return lb.Retain(cfg.LBDataDir, lbDataGlob(cfg), cfg.LBDataRetention)
		}
		return nil
	}, nil), "messenger")

	if err := pack.Start(); err != nil {
		return nil, nil, err
	}
	rt.pack = pack

	setCurrent(rt)
	return rt, rest, nil
}

// Progress drives every pollable component once: the termination
// detector's own round-pacing poll, then the ActiveMessenger's
// transport-drain-and-dispatch step.
func (rt *Runtime) Progress() int { return rt.pack.Progress() }

// Finalize tears every component down in reverse bring-up order
// (flushing diagnostics, closing the LB datafile) and clears the
// process-wide singleton.
func (rt *Runtime) Finalize() error {
	err := rt.pack.Finalize()
	setCurrent(nil)
	return err
}

func (rt *Runtime) flushDiagSummary() error {
	if !rt.Config.DiagEnable {
		return nil
	}
	snap := rt.Diag.Snapshot()
	if rt.Config.DiagPrintSummary && rt.Config.DiagSummaryFile != "" {
		if err := diag.PrintSummary(rt.Config.DiagSummaryFile, snap); err != nil {
			return err
		}
	}
	if rt.Config.DiagSummaryCSVFile != "" {
		if err := diag.WriteCSVSummary(rt.Config.DiagSummaryCSVFile, snap); err != nil {
			return err
		}
	}
	return nil
}

// lbDataGlob turns the %p-templated LBDataFile name into a glob
// pattern covering every rank's file, for Retain's cross-rank sweep.
func lbDataGlob(cfg config.AppConfig) string {
	out := make([]rune, 0, len(cfg.LBDataFile))
	for _, r := range cfg.LBDataFile {
		out = append(out, r)
	}
	s := string(out)
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '%' && s[i+1] == 'p' {
			return s[:i] + "*" + s[i+2:]
		}
	}
	return s
}

type funcComponent struct {
	name string
	init func() error
	fin  func() error
	prog func() int
}

func newFuncComponent(name string, init, fin func() error, prog func() int) *funcComponent {
	return &funcComponent{name: name, init: init, fin: fin, prog: prog}
}

func (f *funcComponent) Name() string { return f.name }

func (f *funcComponent) Initialize() error {
	if f.init != nil {
		return f.init()
	}
	return nil
}

func (f *funcComponent) Finalize() error {
	if f.fin != nil {
		return f.fin()
	}
	return nil
}

func (f *funcComponent) Progress() int {
	if f.prog != nil {
		return f.prog()
	}
	return 0
}
