package relay

import (
	"context"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/seabase/kiwi-relay/duplex"
	"github.com/seabase/kiwi-relay/logging"
)

// sessionEventBuffer decouples the transport read loop from the session
// loop. When it fills up the read loop blocks, which pushes back on the
// browser instead of dropping chunks.
const sessionEventBuffer = 64

// SessionParams holds everything one relay session needs.
type SessionParams struct {
	RequestID string
	Model     string
	Mode      Mode
	Config    MachineConfig
	Start     duplex.StartGenerate
	Transport duplex.Transport
	Sink      Sink
	Clock     clockwork.Clock
	Stats     *Stats
	Recorder  *MetricRecorder
	Logger    logging.Logger
}

// Session drives a Machine for one completion request. All machine steps
// and effects run on the goroutine that calls Run; transport callbacks and
// timers only post events to it.
type Session struct {
	p       SessionParams
	logger  logging.Logger
	machine *Machine

	events chan Event
	closed chan struct{}

	timers  [timerCount]clockwork.Timer
	pending []Event
	outcome Outcome

	ctx        context.Context
	callerLeft bool
}

// NewSession creates a session. Nothing happens until Run.
func NewSession(p SessionParams) *Session {
	return &Session{
		p:       p,
		logger:  p.Logger,
		machine: NewMachine(p.Config, p.Mode),
		events:  make(chan Event, sessionEventBuffer),
		closed:  make(chan struct{}),
	}
}

// Run relays until the session closes and returns how it ended.
// Cancelling ctx means the HTTP caller went away.
func (s *Session) Run(ctx context.Context) Outcome {
	mode := s.p.Mode.String()
	started := s.p.Clock.Now()

	sessionsActive.WithLabelValues(mode).Inc()
	defer sessionsActive.WithLabelValues(mode).Dec()

	unsubscribe := s.p.Transport.Subscribe(s.onTransportEvent)
	defer func() {
		close(s.closed)
		unsubscribe()
		for timer := range timerCount {
			s.stopTimer(timer)
		}
	}()

	s.ctx = ctx
	s.step(EvStart{})
	for !s.machine.Closed() {
		// A departed caller is noticed before any queued chunk so that
		// failed writes to it are never counted as relay errors.
		if !s.callerLeft && ctx.Err() != nil {
			s.step(s.callerGone())
			continue
		}

		var callerDone <-chan struct{}
		if !s.callerLeft {
			callerDone = ctx.Done()
		}
		select {
		case ev := <-s.events:
			s.step(ev)
		case <-callerDone:
			s.step(s.callerGone())
		}
	}

	elapsed := s.p.Clock.Since(started)
	outcome := s.outcome.String()
	sessionsTotal.WithLabelValues(mode, outcome).Inc()
	s.p.Recorder.RecordDuration(sessionDuration, []string{mode, outcome}, elapsed)

	s.logger.Info().
		Str(logging.FieldResult, outcome).
		Dur(logging.FieldDuration, elapsed).
		Msg("relay session closed")

	return s.outcome
}

func (s *Session) callerGone() Event {
	s.callerLeft = true
	s.logger.Info().Msg("API requestor disconnected, browser generation continues")
	return EvCallerGone{}
}

func (s *Session) step(ev Event) {
	s.pending = append(s.pending, ev)
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]

		if chunk, ok := next.(EvChunk); ok && !s.machine.Closed() {
			n := utf8.RuneCountInString(chunk.Text)
			s.p.Stats.RecordChars(n)
			generatedChars.Add(float64(n))
			chunksTotal.WithLabelValues(s.p.Mode.String()).Inc()
		}

		before := s.machine.State()
		effects := s.machine.Step(next, s.p.Clock.Now())
		if after := s.machine.State(); after != before {
			s.logger.Debug().
				Str(logging.FieldOldState, before.String()).
				Str(logging.FieldNewState, after.String()).
				Msg("session state changed")
		}

		for _, effect := range effects {
			s.execute(effect)
		}
	}
}

func (s *Session) execute(effect Effect) {
	switch effect := effect.(type) {
	case EmitStart:
		if err := s.p.Transport.Emit(duplex.EventStartGenerate, s.p.Start); err != nil {
			s.logger.Warn().Err(err).Msg("failed to send start_generate")
			s.pending = append(s.pending, EvPeerGone{Err: err})
		}

	case EmitStop:
		s.logger.Warn().
			Int(logging.FieldErrorCount, s.machine.ErrorCount()).
			Msg("too many consecutive errors, stopping generation")
		if err := s.p.Transport.Emit(duplex.EventStopGeneration, nil); err != nil {
			s.logger.Debug().Err(err).Msg("failed to send stop_generation")
		}

	case WriteFrames:
		var err error
		for _, frame := range effect.Frames {
			if err = s.p.Sink.WriteChunk(frame); err != nil {
				break
			}
		}
		if err != nil && s.ctx.Err() != nil {
			if !s.callerLeft {
				s.pending = append(s.pending, s.callerGone())
			}
			return
		}
		if err != nil {
			sessionErrors.WithLabelValues("write").Inc()
			s.logger.Warn().
				Err(err).
				Int(logging.FieldErrorCount, s.machine.ErrorCount()+1).
				Msg("failed to relay chunk")
		}
		s.pending = append(s.pending, EvWriteResult{Err: err})

	case WriteFallback:
		if err := s.p.Sink.WriteChunk(FallbackText); err != nil {
			s.logger.Debug().Err(err).Msg("fallback frame failed")
		}

	case Finalize:
		var err error
		if s.p.Mode == ModeStream {
			err = s.p.Sink.Finish()
		} else {
			err = s.p.Sink.WriteAggregate(NewAggregateResponse(s.p.RequestID, s.p.Model, effect.Content, s.p.Clock.Now()))
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("client already disconnected")
		}

	case Abort:
		if err := s.p.Sink.Abort(); err != nil {
			s.logger.Debug().Err(err).Msg("failed to write abort response")
		}

	case ArmTimer:
		s.stopTimer(effect.Timer)
		ev := EvTimer{Timer: effect.Timer, Gen: effect.Gen}
		s.timers[effect.Timer] = s.p.Clock.AfterFunc(effect.After, func() { s.post(ev) })

	case CancelTimer:
		s.stopTimer(effect.Timer)

	case Release:
		s.outcome = effect.Outcome
	}
}

func (s *Session) stopTimer(timer TimerKind) {
	if t := s.timers[timer]; t != nil {
		t.Stop()
		s.timers[timer] = nil
	}
}

// post hands an event to the session loop, or drops it once the session
// has closed.
func (s *Session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *Session) onTransportEvent(ev duplex.Event) {
	switch ev.Kind {
	case duplex.KindMessage:
		s.post(EvChunk{Text: ev.Text})
	case duplex.KindDone:
		s.post(EvDone{})
	case duplex.KindError:
		sessionErrors.WithLabelValues("transport").Inc()
		s.logger.Warn().Err(ev.Err).Msg("unusable frame from browser")
		s.post(EvTransportError{Err: ev.Err})
	case duplex.KindDisconnect:
		s.post(EvPeerGone{Err: ev.Err})
	}
}
