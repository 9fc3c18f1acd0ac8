package relay

import (
	"strings"
	"time"
	"unicode/utf8"
)

// State is the lifecycle position of a relay session.
type State int

const (
	StateInitiated State = iota
	StateAwaitingFirstChunk
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateAwaitingFirstChunk:
		return "awaiting_first_chunk"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Mode selects how generated text reaches the caller.
type Mode int

const (
	// ModeStream relays every chunk as an SSE frame.
	ModeStream Mode = iota
	// ModeAggregate buffers the text and answers once with a JSON body.
	ModeAggregate
)

func (m Mode) String() string {
	if m == ModeAggregate {
		return "aggregate"
	}
	return "stream"
}

// Outcome is how a session ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	// OutcomeAborted: too many consecutive errors, stop was sent.
	OutcomeAborted
	// OutcomeCallerGone: the HTTP caller left and the browser went quiet.
	OutcomeCallerGone
	// OutcomePeerGone: the browser connection closed mid-generation.
	OutcomePeerGone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeCallerGone:
		return "caller_gone"
	case OutcomePeerGone:
		return "peer_gone"
	default:
		return "unknown"
	}
}

// TimerKind identifies one of the session timers.
type TimerKind int

const (
	TimerDisconnect TimerKind = iota
	TimerOrphan
	TimerQuiescence
	timerCount
)

// Event is an input to the machine.
type Event interface{ isEvent() }

type (
	// EvStart begins the session.
	EvStart struct{}
	// EvChunk is one text chunk from the browser.
	EvChunk struct{ Text string }
	// EvDone is the browser's end-of-generation signal.
	EvDone struct{}
	// EvTransportError is an inbound frame that could not be used.
	EvTransportError struct{ Err error }
	// EvWriteResult reports the outcome of a WriteFrames effect.
	EvWriteResult struct{ Err error }
	// EvCallerGone fires when the HTTP caller disconnects.
	EvCallerGone struct{}
	// EvPeerGone fires when the browser connection ends.
	EvPeerGone struct{ Err error }
	// EvTimer is a timer firing. Gen must match the latest ArmTimer for
	// the same kind, older firings are ignored.
	EvTimer struct {
		Timer TimerKind
		Gen   uint64
	}
)

func (EvStart) isEvent()          {}
func (EvChunk) isEvent()          {}
func (EvDone) isEvent()           {}
func (EvTransportError) isEvent() {}
func (EvWriteResult) isEvent()    {}
func (EvCallerGone) isEvent()     {}
func (EvPeerGone) isEvent()       {}
func (EvTimer) isEvent()          {}

// Effect is an action the session driver performs for the machine.
type Effect interface{ isEffect() }

type (
	// EmitStart sends start_generate to the browser.
	EmitStart struct{}
	// EmitStop sends stop_generation to the browser.
	EmitStop struct{}
	// WriteFrames writes one SSE frame per element, in order.
	WriteFrames struct{ Frames []string }
	// WriteFallback writes the retry placeholder frame; its failure is
	// ignored.
	WriteFallback struct{}
	// Finalize ends the response: the [DONE] marker in stream mode, the
	// aggregated JSON body otherwise.
	Finalize struct{ Content string }
	// Abort ends the response after the error budget ran out.
	Abort struct{}
	// ArmTimer (re)starts a timer.
	ArmTimer struct {
		Timer TimerKind
		After time.Duration
		Gen   uint64
	}
	// CancelTimer stops a timer.
	CancelTimer struct{ Timer TimerKind }
	// Release drops every transport subscription; it is always the last
	// effect of a session.
	Release struct{ Outcome Outcome }
)

func (EmitStart) isEffect()     {}
func (EmitStop) isEffect()      {}
func (WriteFrames) isEffect()   {}
func (WriteFallback) isEffect() {}
func (Finalize) isEffect()      {}
func (Abort) isEffect()         {}
func (ArmTimer) isEffect()      {}
func (CancelTimer) isEffect()   {}
func (Release) isEffect()       {}

// FallbackText replaces a chunk that could not be written.
const FallbackText = "[Error processing response - retrying]"

// MachineConfig holds the session timings and limits.
type MachineConfig struct {
	DisconnectGrace      time.Duration
	OrphanIdleTimeout    time.Duration
	DoneCheckDelay       time.Duration
	QuiescenceWindow     time.Duration
	MaxConsecutiveErrors int
	MaxFrameChars        int
}

// DefaultMachineConfig returns the standard timings.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		DisconnectGrace:      2 * time.Second,
		OrphanIdleTimeout:    60 * time.Second,
		DoneCheckDelay:       4 * time.Second,
		QuiescenceWindow:     2 * time.Second,
		MaxConsecutiveErrors: 3,
		MaxFrameChars:        8000,
	}
}

// Machine is the relay session state machine. It performs no I/O and
// reads no clock: Step receives the current time and returns the effects
// to perform. A Machine is not safe for concurrent use.
type Machine struct {
	config MachineConfig
	mode   Mode
	state  State

	buffer       strings.Builder
	errorCount   int
	callerGone   bool
	lastActivity time.Time

	gens  [timerCount]uint64
	armed [timerCount]bool
}

// NewMachine creates a machine in StateInitiated.
func NewMachine(config MachineConfig, mode Mode) *Machine {
	return &Machine{config: config, mode: mode}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Mode returns the delivery mode.
func (m *Machine) Mode() Mode { return m.mode }

// Closed reports whether the session has ended.
func (m *Machine) Closed() bool { return m.state == StateClosed }

// ErrorCount returns the current run of consecutive errors.
func (m *Machine) ErrorCount() int { return m.errorCount }

// Step applies ev at time now.
func (m *Machine) Step(ev Event, now time.Time) []Effect {
	if m.state == StateClosed {
		return nil
	}

	switch ev := ev.(type) {
	case EvStart:
		if m.state != StateInitiated {
			return nil
		}
		m.state = StateAwaitingFirstChunk
		m.lastActivity = now
		return []Effect{EmitStart{}}

	case EvChunk:
		return m.onChunk(ev.Text, now)

	case EvDone:
		if m.state == StateInitiated {
			return nil
		}
		m.state = StateDraining
		return []Effect{m.arm(TimerQuiescence, m.config.DoneCheckDelay)}

	case EvWriteResult:
		if ev.Err == nil {
			m.errorCount = 0
			return nil
		}
		if m.callerGone {
			// Writes to a departed caller fail by definition.
			return nil
		}
		return m.onError()

	case EvTransportError:
		if m.state == StateInitiated {
			return nil
		}
		return m.onError()

	case EvCallerGone:
		if m.callerGone {
			return nil
		}
		m.callerGone = true
		return []Effect{m.arm(TimerDisconnect, m.config.DisconnectGrace)}

	case EvPeerGone:
		return m.finalize(OutcomePeerGone)

	case EvTimer:
		if !m.armed[ev.Timer] || m.gens[ev.Timer] != ev.Gen {
			return nil
		}
		m.armed[ev.Timer] = false
		return m.onTimer(ev.Timer, now)
	}

	return nil
}

func (m *Machine) onChunk(text string, now time.Time) []Effect {
	switch m.state {
	case StateInitiated:
		return nil
	case StateAwaitingFirstChunk:
		m.state = StateStreaming
	}
	m.lastActivity = now

	var effects []Effect
	if m.callerGone && m.armed[TimerDisconnect] {
		// The browser is still producing: trade the short debounce for the
		// idle guard so the generation can finish on its own.
		effects = append(effects,
			m.cancel(TimerDisconnect),
			m.arm(TimerOrphan, m.config.OrphanIdleTimeout),
		)
	}

	if m.mode == ModeAggregate {
		m.buffer.WriteString(text)
		m.errorCount = 0
		return effects
	}
	if m.callerGone || text == "" {
		m.errorCount = 0
		return effects
	}
	// A written chunk resets errorCount once its EvWriteResult succeeds.
	return append(effects, WriteFrames{Frames: SplitFrames(text, m.config.MaxFrameChars)})
}

func (m *Machine) onError() []Effect {
	m.errorCount++
	if m.errorCount >= m.config.MaxConsecutiveErrors {
		effects := []Effect{EmitStop{}}
		if !m.callerGone {
			effects = append(effects, Abort{})
		}
		return append(effects, m.close(OutcomeAborted)...)
	}

	if m.mode == ModeStream && !m.callerGone {
		return []Effect{WriteFallback{}}
	}
	return nil
}

func (m *Machine) onTimer(timer TimerKind, now time.Time) []Effect {
	idle := now.Sub(m.lastActivity)

	switch timer {
	case TimerDisconnect:
		return m.close(OutcomeCallerGone)

	case TimerOrphan:
		if idle >= m.config.OrphanIdleTimeout {
			return m.close(OutcomeCallerGone)
		}
		return []Effect{m.arm(TimerOrphan, m.config.OrphanIdleTimeout-idle)}

	case TimerQuiescence:
		if idle >= m.config.QuiescenceWindow {
			return m.finalize(OutcomeCompleted)
		}
		return []Effect{m.arm(TimerQuiescence, m.config.DoneCheckDelay-idle)}
	}

	return nil
}

func (m *Machine) finalize(outcome Outcome) []Effect {
	var effects []Effect
	if !m.callerGone {
		effects = append(effects, Finalize{Content: m.buffer.String()})
	}
	return append(effects, m.close(outcome)...)
}

func (m *Machine) close(outcome Outcome) []Effect {
	m.state = StateClosed

	var effects []Effect
	for timer := range timerCount {
		if m.armed[timer] {
			effects = append(effects, m.cancel(timer))
		}
	}
	return append(effects, Release{Outcome: outcome})
}

func (m *Machine) arm(timer TimerKind, after time.Duration) Effect {
	m.gens[timer]++
	m.armed[timer] = true
	return ArmTimer{Timer: timer, After: after, Gen: m.gens[timer]}
}

func (m *Machine) cancel(timer TimerKind) Effect {
	m.armed[timer] = false
	return CancelTimer{Timer: timer}
}

// SplitFrames cuts text into pieces of at most maxChars characters,
// never splitting a multi-byte rune.
func SplitFrames(text string, maxChars int) []string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	frames := make([]string, 0, utf8.RuneCountInString(text)/maxChars+1)
	for len(text) > 0 {
		cut, count := 0, 0
		for cut < len(text) && count < maxChars {
			_, size := utf8.DecodeRuneInString(text[cut:])
			cut += size
			count++
		}
		frames = append(frames, text[:cut])
		text = text[cut:]
	}
	return frames
}
