package looper

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Dump lists the pending messages, due times relative to now.
func (l *Looper) Dump(prefix string) string {
	q := l.queue
	b := strings.Builder{}
	fmt.Fprintf(&b, "%s%s\n", prefix, l)

	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.UptimeMillis()
	n := 0
	for p := q.messages; p != nil; p = p.next {
		fmt.Fprintf(&b, "%s  Message %d: %s\n", prefix, n, p.describe(now, true))
		n++
	}
	fmt.Fprintf(&b, "%s(Total messages: %d, polling=%v, quitting=%v)\n",
		prefix, n, q.blocked && !q.quitting, q.quitting)
	return b.String()
}

func (m *Message) snapshot(now int64) map[string]any {
	item := map[string]any{
		"when":  float64(m.when),
		"delta": float64(m.when - now),
		"kind":  m.kind.String(),
		"async": m.async,
	}
	switch m.kind {
	case kindBarrier:
		item["token"] = float64(m.Arg1)
	case kindDirectCall:
		item["callback"] = fmt.Sprintf("%T", m.callback)
	default:
		item["what"] = float64(m.What)
		item["arg1"] = float64(m.Arg1)
		item["arg2"] = float64(m.Arg2)
	}
	if m.target != nil {
		item["target"] = m.target.ID()
	}
	if m.Obj != nil {
		item["obj"] = fmt.Sprint(m.Obj)
	}
	return item
}

// Snapshot captures the queue state as a protobuf Struct.
func (l *Looper) Snapshot() (*structpb.Struct, error) {
	q := l.queue
	q.mu.Lock()
	now := q.clock.UptimeMillis()
	messages := make([]any, 0)
	for p := q.messages; p != nil; p = p.next {
		messages = append(messages, p.snapshot(now))
	}
	polling, quitting := q.blocked && !q.quitting, q.quitting
	q.mu.Unlock()

	return structpb.NewStruct(map[string]any{
		"looper":   l.name,
		"id":       l.id,
		"now":      float64(now),
		"polling":  polling,
		"quitting": quitting,
		"messages": messages,
	})
}

// DumpProto is Snapshot in protobuf wire format.
func (l *Looper) DumpProto() ([]byte, error) {
	s, err := l.Snapshot()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}
