package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateOptimizedListenerBindsLoopbackAddress(t *testing.T) {
	ln, err := CreateOptimizedListener("127.0.0.1:0", 16)
	require.NoError(t, err)
	defer ln.Close()

	require.NotEmpty(t, ln.Addr().String())
}
