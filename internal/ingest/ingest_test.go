package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubjectForNamesAPerResourceSubject(t *testing.T) {
	require.Equal(t, "feng.stream.cam1", subjectFor("cam1"))
	require.Equal(t, "feng.stream.cam2", subjectFor("cam2"))
}

func TestNewBridgeFailsFastOnUnreachableBroker(t *testing.T) {
	cfg := Config{
		URL:           "nats://127.0.0.1:1",
		MaxReconnects: 0,
		ReconnectWait: 10 * time.Millisecond,
		PingInterval:  time.Second,
		MaxPingsOut:   1,
	}
	_, err := NewBridge(cfg, nil, nil)
	require.Error(t, err)
}
