package rtsp

import (
	"log"
	"time"
)

// TimeoutChecker holds the thresholds and RTCPSender shared by every
// client's own periodic timer. Client.eventLoop arms a ticker of
// period StreamTimeout and, on each fire, calls Check(c): once a
// live-source session has gone idle for LiveStreamByeTimeout, ask
// RTCPSender to issue a soft BYE notice (exactly once per idle window);
// once idle for StreamTimeout (always a positive integer multiple of
// LiveStreamByeTimeout, enforced by internal/config's Validate),
// unconditionally kick the owning Client via Unloop.
type TimeoutChecker struct {
	RTCP      RTCPSender
	ByeAfter  time.Duration
	KickAfter time.Duration
	Logger    *log.Logger

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// NewTimeoutChecker builds a checker. byeAfter must divide kickAfter
// evenly, matching the positive-integer-multiple invariant enforced at
// config load time; NewTimeoutChecker itself does not re-validate this,
// trusting its caller already ran internal/config.Validate.
func NewTimeoutChecker(rtcp RTCPSender, byeAfter, kickAfter time.Duration, logger *log.Logger) *TimeoutChecker {
	return &TimeoutChecker{
		RTCP:      rtcp,
		ByeAfter:  byeAfter,
		KickAfter: kickAfter,
		Logger:    logger,
		now:       time.Now,
	}
}

// Check is the per-client timer callback: it walks c's own sessions and
// applies the soft-BYE and hard-kick thresholds. Pass it directly as
// the onTick argument to Client.Run.
func (tc *TimeoutChecker) Check(c *Client) {
	now := tc.nowFunc()
	for _, s := range c.Sessions() {
		tc.checkSession(c, s, now)
	}
}

func (tc *TimeoutChecker) checkSession(c *Client, s *RTPSession, now time.Time) {
	idle := now.Sub(s.LastPacketSendTime())

	if s.Source() == LiveSource && idle >= tc.ByeAfter && s.MarkByeSent() && tc.RTCP != nil {
		if err := tc.RTCP.SendByeNotice(s); err != nil && tc.Logger != nil {
			tc.Logger.Printf("timeout: sending BYE for session %s: %v", s.ID(), err)
		}
	}

	if idle >= tc.KickAfter {
		if tc.Logger != nil {
			tc.Logger.Printf("timeout: kicking client %s, session %s idle %s", c.ID, s.ID(), idle)
		}
		c.Unloop()
	}
}

func (tc *TimeoutChecker) nowFunc() time.Time {
	if tc.now != nil {
		return tc.now()
	}
	return time.Now()
}
