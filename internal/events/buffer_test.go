package events

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("buffer", func() {
	It("pushes to the tail", func() {
		buffer := newBuffer()

		Expect(buffer.PushBack(&message{Kind: JobCreatedKind, Data: []byte("msg1")})).To(Succeed())
		Expect(buffer.Size()).To(Equal(1))
		Expect(buffer.head).To(BeIdenticalTo(buffer.tail))

		Expect(buffer.PushBack(&message{Kind: JobCreatedKind, Data: []byte("msg2")})).To(Succeed())
		Expect(buffer.PushBack(&message{Kind: JobCreatedKind, Data: []byte("msg3")})).To(Succeed())
		Expect(buffer.Size()).To(Equal(3))
		Expect(buffer.head.Data).To(Equal([]byte("msg1")))
		Expect(buffer.tail.Data).To(Equal([]byte("msg3")))
	})

	It("pops in insertion order", func() {
		buffer := newBuffer()
		for _, d := range []string{"msg1", "msg2", "msg3"} {
			Expect(buffer.PushBack(&message{Kind: JobFailedKind, Data: []byte(d)})).To(Succeed())
		}

		for _, d := range []string{"msg1", "msg2", "msg3"} {
			m := buffer.Pop()
			Expect(m).NotTo(BeNil())
			Expect(string(m.Data)).To(Equal(d))
		}
		Expect(buffer.Size()).To(Equal(0))
		Expect(buffer.head).To(BeNil())
		Expect(buffer.tail).To(BeNil())
		Expect(buffer.Pop()).To(BeNil())
	})
})
