package events

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("buffer", Ordered, func() {
	Context("buffer", func() {
		It("add successfully", func() {
			buffer := newBuffer()

			buffer.PushBack(&message{Kind: ScanCompletedKind, Data: []byte("msg1")})
			Expect(buffer.Size()).To(Equal(1))
			Expect(buffer.head).NotTo(BeNil())
			Expect(buffer.tail).NotTo(BeNil())

			buffer.PushBack(&message{Kind: ScanCompletedKind, Data: []byte("msg2")})
			Expect(buffer.Size()).To(Equal(2))
			Expect(buffer.head.Data).To(Equal([]byte("msg1")))
			Expect(buffer.tail.Data).To(Equal([]byte("msg2")))

			buffer.PushBack(&message{Kind: ScanCompletedKind, Data: []byte("msg3")})
			Expect(buffer.Size()).To(Equal(3))
			Expect(buffer.head.Data).To(Equal([]byte("msg1")))
			Expect(buffer.tail.Data).To(Equal([]byte("msg3")))
		})

		It("pops in insertion order", func() {
			buffer := newBuffer()

			buffer.PushBack(&message{Kind: ScanCompletedKind, Data: []byte("msg1")})
			buffer.PushBack(&message{Kind: ScanCompletedKind, Data: []byte("msg2")})
			buffer.PushBack(&message{Kind: ScanCompletedKind, Data: []byte("msg3")})
			Expect(buffer.Size()).To(Equal(3))

			for _, want := range []string{"msg1", "msg2", "msg3"} {
				m := buffer.Pop()
				Expect(m).NotTo(BeNil())
				Expect(string(m.Data)).To(Equal(want))
				Expect(m.prev).To(BeNil())
			}
			Expect(buffer.Size()).To(Equal(0))
			Expect(buffer.head).To(BeNil())
			Expect(buffer.tail).To(BeNil())
			Expect(buffer.Pop()).To(BeNil())
		})
	})
})
