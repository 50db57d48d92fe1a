package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core/persist"
)

type saverStub struct {
	last State
}

func (s *saverStub) Persist(partition string, v interface{}) {
	if partition == persist.PartitionAlert {
		s.last = v.(State)
	}
}

func TestQueue(t *testing.T) {
	saver := &saverStub{}
	q := NewQueue(saver)
	assert.Equal(t, State{}, q.State())

	q.Show(TextNewMessage)
	assert.Equal(t, State{Visible: true, Text: TextNewMessage}, q.State())

	// single slot: replaced, still visible
	q.Show(TextMessageSent)
	assert.Equal(t, State{Visible: true, Text: TextMessageSent}, q.State())
	assert.Equal(t, q.State(), saver.last)

	q.Hide()
	assert.Equal(t, State{}, q.State())
	assert.Equal(t, State{}, saver.last)
}

func TestQueue_Hydrate(t *testing.T) {
	q := NewQueue(nil)
	require.NoError(t, q.Hydrate([]byte(`{"open":true,"message":"hello"}`)))
	assert.Equal(t, State{Visible: true, Text: "hello"}, q.State())

	assert.Error(t, q.Hydrate([]byte(`[`)))
	assert.Equal(t, State{}, q.State())
}

func TestQueue_Subscribe(t *testing.T) {
	q := NewQueue(nil)
	var texts []string
	q.Subscribe(func(st State) { texts = append(texts, st.Text) })
	q.Show("a")
	q.Show("b")
	q.Hide()
	assert.Equal(t, []string{"a", "b", ""}, texts)
}

func TestQueue_Subscribe_fromCallback(t *testing.T) {
	q := NewQueue(nil)
	var first, second int
	q.Subscribe(func(State) {
		first++
		if first == 1 {
			q.Subscribe(func(State) { second++ })
		}
	})
	q.Show("a") // the late subscriber joins after this round
	q.Show("b")
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, second)
}
