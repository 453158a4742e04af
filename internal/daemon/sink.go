package daemon

import "github.com/calder/inkwell/pkg/registry"

// feedSink forwards a focused session's stream onto the gateway's
// websocket event feed. A fresh sink is built per attach, so replayed
// text arrives as an ordinary first delta.
type feedSink struct {
	daemon    *Daemon
	sessionID string
}

func (d *Daemon) newFeedSink(sessionID string) registry.RenderSink {
	return &feedSink{daemon: d, sessionID: sessionID}
}

func (s *feedSink) Write(chunk string) {
	s.daemon.gateway.Broadcaster().Broadcast("stream.delta", s.sessionID,
		map[string]string{"text": chunk})
}

func (s *feedSink) End() {
	s.daemon.gateway.Broadcaster().Broadcast("stream.end", s.sessionID, nil)
}

func (s *feedSink) Fail(message string) {
	s.daemon.gateway.Broadcaster().Broadcast("stream.error", s.sessionID,
		map[string]string{"message": message})
}
