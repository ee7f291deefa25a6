package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/proto"
)

func TestHubFiltersByConversation(t *testing.T) {
	hub := NewHub(4)
	defer hub.Close()

	all := hub.Subscribe("")
	one := hub.Subscribe("c1")

	hub.Emit(proto.NewEvent(proto.EventAnalyzing, "c1", nil))
	hub.Emit(proto.NewEvent(proto.EventAnalyzing, "c2", nil))

	require.Len(t, all.C(), 2)
	require.Len(t, one.C(), 1)
	ev := <-one.C()
	assert.Equal(t, "c1", ev.ConversationID)
}

func TestHubPreservesOrder(t *testing.T) {
	hub := NewHub(8)
	sub := hub.Subscribe("c")

	order := []proto.EventType{proto.EventAnalyzing, proto.EventPlanning, proto.EventCoding, proto.EventValidating, proto.EventComplete}
	for _, typ := range order {
		hub.Emit(proto.NewEvent(typ, "c", nil))
	}
	hub.Close()

	var got []proto.EventType
	for ev := range sub.C() {
		got = append(got, ev.Type)
	}
	assert.Equal(t, order, got)
}

func TestHubDropsWhenFull(t *testing.T) {
	hub := NewHub(1)
	defer hub.Close()
	sub := hub.Subscribe("c")

	hub.Emit(proto.NewEvent(proto.EventAnalyzing, "c", nil))
	hub.Emit(proto.NewEvent(proto.EventPlanning, "c", nil))

	assert.Equal(t, uint64(1), sub.Dropped())
	assert.Equal(t, uint64(1), hub.Dropped())
	ev := <-sub.C()
	assert.Equal(t, proto.EventAnalyzing, ev.Type)
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("c")
	assert.Equal(t, 1, hub.SubscriberCount())

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.SubscriberCount())

	_, ok := <-sub.C()
	assert.False(t, ok)

	hub.Close()
	late := hub.Subscribe("c")
	_, ok = <-late.C()
	assert.False(t, ok)
	hub.Emit(proto.NewEvent(proto.EventComplete, "c", nil))
}
