package session_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colloquyhq/colloquy/pkg/events"
	"github.com/colloquyhq/colloquy/pkg/session"
)

func TestEventBuffer_AppendDrain(t *testing.T) {
	buf := session.NewEventBuffer(8)

	buf.Append(events.New("a", events.MessageReady, nil))
	buf.Append(events.New("b", events.CardReady, nil))
	assert.Equal(t, 2, buf.Len())

	drained := buf.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].SourceID)
	assert.Equal(t, "b", drained[1].SourceID)

	assert.Zero(t, buf.Len())
	assert.Empty(t, buf.Drain())
}

func TestEventBuffer_EvictsOldestWhenFull(t *testing.T) {
	buf := session.NewEventBuffer(3)

	for i := 0; i < 5; i++ {
		buf.Append(events.New(strconv.Itoa(i), events.MessageReady, nil))
	}

	drained := buf.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, "2", drained[0].SourceID)
	assert.Equal(t, "4", drained[2].SourceID)
}

func TestEventBuffer_DefaultLimit(t *testing.T) {
	buf := session.NewEventBuffer(0)
	for i := 0; i < 300; i++ {
		buf.Append(events.New("x", events.MessageReady, nil))
	}
	assert.Equal(t, 256, buf.Len())
}
