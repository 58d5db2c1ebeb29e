package events

import "sync"

type message struct {
	Kind string
	Data []byte
	next *message
}

// buffer is an unbounded FIFO of pending events.
type buffer struct {
	lock sync.Mutex
	head *message
	tail *message
	size int
}

func newBuffer() *buffer {
	return &buffer{}
}

func (b *buffer) PushBack(msg *message) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.head == nil {
		b.head = msg
		b.tail = msg
	} else {
		b.tail.next = msg
		b.tail = msg
	}
	b.size++

	return nil
}

func (b *buffer) Pop() *message {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.head == nil {
		return nil
	}
	tmp := b.head
	b.head = tmp.next
	if b.head == nil {
		b.tail = nil
	}
	tmp.next = nil
	b.size--
	return tmp
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.size
}
