package rtsp

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRTCP struct {
	mu    sync.Mutex
	byes  []string
	erred bool
}

func (f *fakeRTCP) SendByeNotice(s *RTPSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.erred {
		return errors.New("boom")
	}
	f.byes = append(f.byes, s.ID())
	return nil
}

func (f *fakeRTCP) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.byes))
	copy(out, f.byes)
	return out
}

func newIdleClientWithSession(t *testing.T, source Source, idleFor time.Duration) (*Client, *RTPSession) {
	t.Helper()
	server, _ := net.Pipe()
	vhost := &VirtualHost{Name: "t"}
	c := NewClient("c", server, TransportTCP, vhost, nil)

	s := NewRTPSession("s1", c, source, nil)
	s.MarkPacketSent(time.Now().Add(-idleFor))
	c.AddSession(s)
	return c, s
}

func TestTimeoutCheckerSendsSoftByeForIdleLiveSession(t *testing.T) {
	rtcp := &fakeRTCP{}
	c, s := newIdleClientWithSession(t, LiveSource, 7*time.Second)
	defer c.Unloop()

	tc := NewTimeoutChecker(rtcp, 6*time.Second, 12*time.Second, nil)
	tc.Check(c)

	require.Equal(t, []string{s.ID()}, rtcp.sent())
	require.False(t, isClosed(c.Done()))
}

func TestTimeoutCheckerDoesNotByeFileSource(t *testing.T) {
	rtcp := &fakeRTCP{}
	c, _ := newIdleClientWithSession(t, FileSource, 7*time.Second)
	defer c.Unloop()

	tc := NewTimeoutChecker(rtcp, 6*time.Second, 12*time.Second, nil)
	tc.Check(c)

	require.Empty(t, rtcp.sent())
}

func TestTimeoutCheckerKicksClientPastHardTimeout(t *testing.T) {
	rtcp := &fakeRTCP{}
	c, _ := newIdleClientWithSession(t, LiveSource, 13*time.Second)

	tc := NewTimeoutChecker(rtcp, 6*time.Second, 12*time.Second, nil)
	tc.Check(c)

	require.True(t, isClosed(c.Done()))
}

func TestTimeoutCheckerSendsExactlyOneByePerIdleWindow(t *testing.T) {
	rtcp := &fakeRTCP{}
	c, _ := newIdleClientWithSession(t, LiveSource, 7*time.Second)
	defer c.Unloop()

	tc := NewTimeoutChecker(rtcp, 6*time.Second, 12*time.Second, nil)
	tc.Check(c)
	tc.Check(c)
	tc.Check(c)

	require.Len(t, rtcp.sent(), 1, "repeated checks within the same idle window must not resend BYE")
}

func TestTimeoutCheckerResendsByeAfterNewPacket(t *testing.T) {
	rtcp := &fakeRTCP{}
	c, s := newIdleClientWithSession(t, LiveSource, 7*time.Second)
	defer c.Unloop()

	tc := NewTimeoutChecker(rtcp, 6*time.Second, 12*time.Second, nil)
	tc.Check(c)
	require.Len(t, rtcp.sent(), 1)

	s.MarkPacketSent(time.Now().Add(-7 * time.Second))
	tc.Check(c)

	require.Len(t, rtcp.sent(), 2, "a fresh idle window must be able to produce its own BYE")
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
