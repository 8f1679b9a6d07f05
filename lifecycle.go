// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

// lifecycleHandler keeps the session alive: it answers pings, pings a quiet
// peer, closes a session that has been idle too long, and notifies the
// application when the session becomes active.
type lifecycleHandler struct {
	Passthrough
	lastPing int64
}

func (h *lifecycleHandler) OnActive(hc *HandlerContext) {
	s := hc.Session()
	if f := s.onActive; f != nil {
		s.app.Execute(func() { f(s) })
	}
	hc.FireActive()
}

func (h *lifecycleHandler) Read(hc *HandlerContext, msg any) error {
	switch msg.(type) {
	case PingMessage:
		return hc.FireWrite(PongMessage{})
	case PongMessage:
		return nil
	}
	return hc.FireRead(msg)
}

func (h *lifecycleHandler) Tick(hc *HandlerContext) {
	s := hc.Session()
	if idle := s.cfg.IdleTimeout.Milliseconds(); idle > 0 && s.ch != nil {
		now := s.clock.Now()
		quiet := now - s.lastRecv
		if quiet >= idle {
			// Do not tear down the pipeline while a tick is passing through it.
			s.post(func() { s.fail(ErrIdleTimeout) })
		} else if third := idle / 3; quiet >= third && now-h.lastPing >= third {
			h.lastPing = now
			if err := hc.FireWrite(PingMessage{}); err != nil {
				s.log.Warn("ping failed", "session", s.id, "error", err)
			}
		}
	}
	hc.FireTick()
}
