package term

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/amt-rt/vt/node"
	"github.com/amt-rt/vt/tree"
)

// CtrlKind enumerates the small set of internal active messages the
// detector exchanges to run the four-counter consensus over an
// epoch's spanning tree (§4.7 algorithm).
type CtrlKind uint8

const (
	CmProbeStart CtrlKind = iota
	CmReport
	CmDone
	CmHangReport
)

// ControlMsg is the payload term's consensus protocol sends; it never
// crosses the wire by itself — the ActiveMessenger encodes it as a
// control frame on its own reserved transport tag, outside the handler
// registry.
type ControlMsg struct {
	Kind  CtrlKind
	Epoch EpochT
	Wave  int
	Prod  int64
	Cons  int64
}

// Sender is injected by the runtime wiring: it hands a ControlMsg to
// the local rank's ActiveMessenger to be delivered to dest. Keeping
// this as a function type (rather than importing package am) avoids a
// term<->am import cycle: am depends on term for EpochT and for
// calling Produce/Consume, term depends on nothing from am.
type Sender func(dest node.T, msg ControlMsg)

type epochState struct {
	mu   sync.Mutex
	tree *tree.Tree

	localProd, localCons int64 // atomic

	wave          int
	roundReports  map[node.T][2]int64
	roundInFlight bool
	pendingMatch  bool
	prevProd      int64
	prevCons      int64

	terminated bool
	actions    []func()
}

// Detector runs the four-counter termination algorithm for every
// active epoch on this rank (§4.7), plus hang detection (§4.7 "Hang
// detection").
type Detector struct {
	self   node.T
	nRanks int
	manip  *Manip
	send   Sender

	mu     sync.Mutex
	epochs map[EpochT]*epochState

	idleLoops  int64
	hangFreq   int
	onHang     func(epoch EpochT)
	noHangFlag bool

	// onProduce/onConsume/onIdleRounds are optional diagnostics hooks
	// (vt_diag_*): the runtime wires these to its Stats collector so
	// produce/consume/idle-loop traffic shows up alongside the rest of
	// the diagnostics surface.
	onProduce    func(n int64)
	onConsume    func(n int64)
	onIdleRounds func(n int64)
}

// SetDiagHooks wires the runtime's diagnostics collector into the
// detector's produce/consume/idle-round counters.
func (d *Detector) SetDiagHooks(onProduce, onConsume, onIdleRounds func(n int64)) {
	d.onProduce = onProduce
	d.onConsume = onConsume
	d.onIdleRounds = onIdleRounds
}

// NewDetector builds a Detector for self among nRanks ranks. hangFreq
// is the number of consecutive no-progress scheduler loops before
// CheckHang reports stuck epochs (§6 vt_hang_freq).
func NewDetector(self node.T, nRanks int, hangFreq int) *Detector {
	return &Detector{
		self:     self,
		nRanks:   nRanks,
		manip:    NewManip(self),
		epochs:   make(map[EpochT]*epochState),
		hangFreq: hangFreq,
	}
}

// SetSender wires the control-message sender (am.New does this when it
// builds the ActiveMessenger around this Detector).
func (d *Detector) SetSender(s Sender) { d.send = s }

// SetHangHandler installs the callback CheckHang invokes for each
// epoch it finds stuck.
func (d *Detector) SetHangHandler(fn func(epoch EpochT)) { d.onHang = fn }

// DisableHangDetection mirrors vt_no_detect_hang.
func (d *Detector) DisableHangDetection(v bool) { d.noHangFlag = v }

func (d *Detector) getOrCreate(e EpochT) *epochState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if es, ok := d.epochs[e]; ok {
		return es
	}
	var t *tree.Tree
	if IsRooted(e) {
		t = tree.NewRootedAt(d.nRanks, RootNode(e))
	} else {
		t = tree.New(d.nRanks)
	}
	es := &epochState{tree: t, roundReports: map[node.T][2]int64{}}
	d.epochs[e] = es
	return es
}

// MakeEpochCollective mints and locally registers a collective epoch
// (§4.7 epoch creation: "all ranks call ... at the same logical point
// and receive the same EpochT").
func (d *Detector) MakeEpochCollective(cat Category) EpochT {
	e := d.manip.NextCollectiveEpoch(cat)
	d.getOrCreate(e)
	return e
}

// MakeEpochRooted mints a rooted epoch; only the root may call this
// (§3 invariant: "only R may mint sequences").
func (d *Detector) MakeEpochRooted(cat Category) EpochT {
	e := d.manip.NextRootedEpoch(cat)
	d.getOrCreate(e)
	return e
}

// LearnRootedEpoch registers a rooted epoch this rank observed for the
// first time on a received message (§3 "Rooted at node R: ... other
// ranks learn of the epoch lazily").
func (d *Detector) LearnRootedEpoch(e EpochT) { d.getOrCreate(e) }

// Produce records one more send under epoch e (§4.4 "for every
// outgoing send in epoch E, the messenger calls produce(E,1) ... before
// the send").
func (d *Detector) Produce(e EpochT, n int64) {
	if d.onProduce != nil {
		d.onProduce(n)
	}
	if e == NoEpoch || e == TermSentinel {
		return
	}
	es := d.getOrCreate(e)
	atomic.AddInt64(&es.localProd, n)
}

// Consume records one more handled delivery under epoch e (§4.6
// Runnable.run: "calls consume(epoch, 1)").
func (d *Detector) Consume(e EpochT, n int64) {
	if d.onConsume != nil {
		d.onConsume(n)
	}
	if e == NoEpoch || e == TermSentinel {
		return
	}
	es := d.getOrCreate(e)
	atomic.AddInt64(&es.localCons, n)
}

// Poll advances every active epoch's consensus by at most one round:
// the scheduler calls this once per progress step (§4.7 "driven by the
// scheduler's progress loop"). A round that is still awaiting children's
// reports is left alone; only a root whose previous round has fully
// resolved gets a new one started.
func (d *Detector) Poll() {
	d.mu.Lock()
	roots := make([]EpochT, 0, len(d.epochs))
	for e, es := range d.epochs {
		es.mu.Lock()
		isRoot := es.tree.IsRoot(d.self)
		eligible := isRoot && !es.terminated && !es.roundInFlight
		es.mu.Unlock()
		if eligible {
			roots = append(roots, e)
		}
	}
	d.mu.Unlock()
	for _, e := range roots {
		d.startRound(e)
	}
}

// Terminated reports whether e's consensus has concluded (§4.7
// terminatedEpoch, §8 monotonicity: once true, never false again).
func (d *Detector) Terminated(e EpochT) bool {
	if e == NoEpoch {
		return true
	}
	es := d.getOrCreate(e)
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.terminated
}

// AddAction registers fn to run once e terminates; if e is already
// terminated, fn runs synchronously on the caller now (§4.7, §8).
func (d *Detector) AddAction(e EpochT, fn func()) {
	es := d.getOrCreate(e)
	es.mu.Lock()
	if es.terminated {
		es.mu.Unlock()
		fn()
		return
	}
	es.actions = append(es.actions, fn)
	es.mu.Unlock()
}

// Counts exposes the raw local (prod, cons) pair, used by tests and
// hang diagnostics.
func (d *Detector) Counts(e EpochT) (prod, cons int64) {
	es := d.getOrCreate(e)
	return atomic.LoadInt64(&es.localProd), atomic.LoadInt64(&es.localCons)
}

// DumpEpochGraph renders e's local producer/consumer balance and
// outstanding wave, the minimum needed to tell "never ran" apart from
// "still in flight" when a hang fires (vt_epoch_graph_on_hang).
func (d *Detector) DumpEpochGraph(e EpochT) string {
	es := d.getOrCreate(e)
	es.mu.Lock()
	wave := es.wave
	es.mu.Unlock()
	prod, cons := d.Counts(e)
	return fmt.Sprintf("epoch=%#x wave=%d local_prod=%d local_cons=%d outstanding=%d",
		uint64(e), wave, prod, cons, prod-cons)
}

//
// consensus round machinery
//

func (d *Detector) startRound(e EpochT) {
	es := d.getOrCreate(e)
	es.mu.Lock()
	es.wave++
	wave := es.wave
	es.roundReports = map[node.T][2]int64{}
	es.roundInFlight = true
	t := es.tree
	es.mu.Unlock()

	if t.IsLeaf(d.self) {
		// single-node tree: root has no children to wait on.
		d.rootReceiveTotal(e, wave, atomic.LoadInt64(&es.localProd), atomic.LoadInt64(&es.localCons))
		return
	}
	t.ForEachChild(d.self, func(c node.T) {
		d.send(c, ControlMsg{Kind: CmProbeStart, Epoch: e, Wave: wave})
	})
}

// HandleControl is called directly by the ActiveMessenger when a
// ControlMsg frame arrives from another rank.
func (d *Detector) HandleControl(from node.T, msg ControlMsg) {
	switch msg.Kind {
	case CmProbeStart:
		d.handleProbeStart(msg.Epoch, msg.Wave)
	case CmReport:
		d.handleReport(from, msg.Epoch, msg.Wave, msg.Prod, msg.Cons)
	case CmDone:
		d.declareTerminated(msg.Epoch)
	case CmHangReport:
		// ignored: nothing sends this kind, and CheckHang works only from
		// this rank's own idle-loop count and epochs; ranks do not report
		// hang counts to the root.
	}
}

func (d *Detector) handleProbeStart(e EpochT, wave int) {
	es := d.getOrCreate(e)
	es.mu.Lock()
	es.wave = wave
	es.roundReports = map[node.T][2]int64{}
	t := es.tree
	es.mu.Unlock()

	t.ForEachChild(d.self, func(c node.T) {
		d.send(c, ControlMsg{Kind: CmProbeStart, Epoch: e, Wave: wave})
	})
	if t.IsLeaf(d.self) {
		d.reportUp(e, wave)
	}
}

func (d *Detector) reportUp(e EpochT, wave int) {
	es := d.getOrCreate(e)
	p := atomic.LoadInt64(&es.localProd)
	c := atomic.LoadInt64(&es.localCons)
	parent := es.tree.Parent(d.self)
	d.send(parent, ControlMsg{Kind: CmReport, Epoch: e, Wave: wave, Prod: p, Cons: c})
}

func (d *Detector) handleReport(from node.T, e EpochT, wave int, prod, cons int64) {
	es := d.getOrCreate(e)
	es.mu.Lock()
	if wave != es.wave {
		es.mu.Unlock()
		return // stale report from a superseded round
	}
	es.roundReports[from] = [2]int64{prod, cons}
	children := es.tree.Children(d.self)
	complete := len(es.roundReports) >= len(children)
	var totalP, totalC int64
	if complete {
		totalP = atomic.LoadInt64(&es.localProd)
		totalC = atomic.LoadInt64(&es.localCons)
		for _, v := range es.roundReports {
			totalP += v[0]
			totalC += v[1]
		}
	}
	parent := es.tree.Parent(d.self)
	es.mu.Unlock()
	if !complete {
		return
	}
	if parent == node.Uninitialized {
		d.rootReceiveTotal(e, wave, totalP, totalC)
	} else {
		d.send(parent, ControlMsg{Kind: CmReport, Epoch: e, Wave: wave, Prod: totalP, Cons: totalC})
	}
}

func (d *Detector) rootReceiveTotal(e EpochT, _ int, prod, cons int64) {
	es := d.getOrCreate(e)
	es.mu.Lock()
	converged := prod == cons
	matched := converged && es.pendingMatch && es.prevProd == prod && es.prevCons == cons
	es.pendingMatch = converged
	es.prevProd, es.prevCons = prod, cons
	es.roundInFlight = false
	es.mu.Unlock()

	if matched {
		d.declareTerminated(e)
	}
	// otherwise the next call to Poll will start another round.
}

func (d *Detector) declareTerminated(e EpochT) {
	es := d.getOrCreate(e)
	es.mu.Lock()
	if es.terminated {
		es.mu.Unlock()
		return
	}
	es.terminated = true
	actions := es.actions
	es.actions = nil
	t := es.tree
	es.mu.Unlock()

	for _, fn := range actions {
		fn()
	}
	t.ForEachChild(d.self, func(c node.T) {
		d.send(c, ControlMsg{Kind: CmDone, Epoch: e})
	})
}

//
// hang detection (§4.7 "Hang detection")
//

// NotifyProgress resets the idle-loop counter; the scheduler calls
// this whenever a step dispatched at least one Runnable.
func (d *Detector) NotifyProgress() {
	atomic.StoreInt64(&d.idleLoops, 0)
	if d.onIdleRounds != nil {
		d.onIdleRounds(0)
	}
}

// NotifyIdleLoop increments the idle-loop counter; the scheduler calls
// this once per loop that made zero progress.
func (d *Detector) NotifyIdleLoop() int64 {
	n := atomic.AddInt64(&d.idleLoops, 1)
	if d.onIdleRounds != nil {
		d.onIdleRounds(n)
	}
	return n
}

// CheckHang reports every non-terminated epoch once idleLoops has
// reached hangFreq, invoking the installed onHang callback for each
// (§8 scenario 6: "after hang_freq idle loops, hang detection
// triggers").
func (d *Detector) CheckHang() (stuck []EpochT) {
	if d.noHangFlag || d.hangFreq <= 0 {
		return nil
	}
	if atomic.LoadInt64(&d.idleLoops) < int64(d.hangFreq) {
		return nil
	}
	d.mu.Lock()
	for e, es := range d.epochs {
		es.mu.Lock()
		done := es.terminated
		es.mu.Unlock()
		if !done {
			stuck = append(stuck, e)
		}
	}
	d.mu.Unlock()
	for _, e := range stuck {
		if d.onHang != nil {
			d.onHang(e)
		}
	}
	return stuck
}
