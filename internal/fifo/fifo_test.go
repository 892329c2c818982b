package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFifoWrite(t *testing.T) {
	fifo := NewFifo[byte](99)
	res := fifo.Write([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, 5, res)
	assert.Equal(t, 5, fifo.writePos)
	assert.Equal(t, 0, fifo.readPos)
	res = fifo.Write(make([]byte, 500))
	assert.Equal(t, 94, res)
	res = fifo.Write([]byte{1})
	assert.Equal(t, 0, res)
	assert.Equal(t, 0, fifo.GetSpace())
	// Free up some space by reading then re writing
	fifo.Read(make([]byte, 10))
	res = fifo.Write(make([]byte, 10))
	assert.Equal(t, 10, res)
}

func TestFifoRead(t *testing.T) {
	fifo := NewFifo[byte](99)
	receiveBuffer := make([]byte, 10)
	res := fifo.Read(receiveBuffer)
	assert.Equal(t, 0, res)
	res = fifo.Write([]byte{1, 2, 3, 4})
	assert.Equal(t, 4, res)
	res = fifo.Read(receiveBuffer)
	assert.Equal(t, 4, res)
	assert.Equal(t, []byte{1, 2, 3, 4}, receiveBuffer[:4])
	assert.Equal(t, 0, fifo.GetOccupied())
}

func TestFifoWrapAround(t *testing.T) {
	fifo := NewFifo[int](3)
	assert.Equal(t, 3, fifo.Capacity())
	for round := 0; round < 10; round++ {
		assert.True(t, fifo.Push(round))
		assert.True(t, fifo.Push(round+100))
		assert.Equal(t, 2, fifo.GetOccupied())
		head, ok := fifo.Peek()
		assert.True(t, ok)
		assert.Equal(t, round, head)
		v, _ := fifo.Pop()
		assert.Equal(t, round, v)
		v, _ = fifo.Pop()
		assert.Equal(t, round+100, v)
	}
	_, ok := fifo.Pop()
	assert.False(t, ok)
	fifo.Write([]int{1, 2, 3})
	fifo.Reset()
	assert.Equal(t, 0, fifo.GetOccupied())
	assert.Equal(t, 3, fifo.GetSpace())
}
