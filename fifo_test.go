package sds011

import "testing"

func TestRequestQueue_EmptyPopFails(t *testing.T) {
	q := newRequestQueue(2)
	if !q.isEmpty() {
		t.Fatal("expected new queue to be empty")
	}
	if _, ok := q.pop(); ok {
		t.Fatal("expected pop on empty queue to fail")
	}
}

func TestRequestQueue_FullPushFails(t *testing.T) {
	q := newRequestQueue(2)
	if !q.push(Request{Msg: Message{Type: MsgTypeData}}) {
		t.Fatal("expected first push to succeed")
	}
	if !q.push(Request{Msg: Message{Type: MsgTypeSleep}}) {
		t.Fatal("expected second push to succeed")
	}
	if !q.isFull() {
		t.Fatal("expected queue to report full at capacity")
	}
	if q.push(Request{Msg: Message{Type: MsgTypeRepMode}}) {
		t.Fatal("expected push on full queue to fail")
	}
}

func TestRequestQueue_FIFOOrder(t *testing.T) {
	q := newRequestQueue(3)
	q.push(Request{Msg: Message{Type: MsgTypeData}})
	q.push(Request{Msg: Message{Type: MsgTypeSleep}})
	q.push(Request{Msg: Message{Type: MsgTypeRepMode}})

	for _, want := range []MsgType{MsgTypeData, MsgTypeSleep, MsgTypeRepMode} {
		r, ok := q.pop()
		if !ok {
			t.Fatalf("expected pop to succeed for %v", want)
		}
		if r.Msg.Type != want {
			t.Fatalf("got %v, want %v", r.Msg.Type, want)
		}
	}
	if !q.isEmpty() {
		t.Fatal("expected queue to be empty after draining")
	}
}

func TestRequestQueue_PushAfterPopReusesSlot(t *testing.T) {
	q := newRequestQueue(1)
	if !q.push(Request{Msg: Message{Type: MsgTypeData}}) {
		t.Fatal("expected push to succeed")
	}
	if q.push(Request{Msg: Message{Type: MsgTypeSleep}}) {
		t.Fatal("expected push on full single-capacity queue to fail")
	}
	if _, ok := q.pop(); !ok {
		t.Fatal("expected pop to succeed")
	}
	if !q.push(Request{Msg: Message{Type: MsgTypeSleep}}) {
		t.Fatal("expected push to succeed after pop frees a slot")
	}
}

func TestRequestQueue_CapacityExcludesReservedSlot(t *testing.T) {
	q := newRequestQueue(4)
	if q.capacity() != 4 {
		t.Fatalf("expected reported capacity 4, got %d", q.capacity())
	}
}
