package realtime

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *client) []string {
	var out []string
	for {
		select {
		case msg := <-c.send:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestEnqueueDropsOldestUnderBackpressure(t *testing.T) {
	c := newClient(nil, nil, "user-1")

	for i := 0; i < sendQueueSize; i++ {
		c.enqueue([]byte(fmt.Sprintf("msg-%d", i)))
	}
	c.enqueue([]byte("newest"))

	queued := drain(c)
	require.Len(t, queued, sendQueueSize, "queue never grows past its bound")
	assert.NotContains(t, queued, "msg-0", "oldest pending message is sacrificed")
	assert.Equal(t, "newest", queued[len(queued)-1])
}

func TestEnqueueKeepsOrderWithoutPressure(t *testing.T) {
	c := newClient(nil, nil, "user-1")

	c.enqueue([]byte("a"))
	c.enqueue([]byte("b"))
	c.enqueue([]byte("c"))

	assert.Equal(t, []string{"a", "b", "c"}, drain(c))
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newClient(nil, nil, "user-1")

	c.close()
	assert.NotPanics(t, func() { c.close() })

	_, open := <-c.send
	assert.False(t, open)
}
