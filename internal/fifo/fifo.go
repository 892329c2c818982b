package fifo

// Circular Fifo object used for the simulated controller RX FIFO
// One slot is always kept empty to tell full from empty
type Fifo[T any] struct {
	buffer   []T
	writePos int
	readPos  int
}

// Create a fifo able to hold capacity elements
func NewFifo[T any](capacity int) *Fifo[T] {
	f := &Fifo[T]{
		buffer:   make([]T, capacity+1),
		writePos: 0,
		readPos:  0,
	}
	return f
}

func (f *Fifo[T]) Reset() {
	f.readPos = 0
	f.writePos = 0
}

func (f *Fifo[T]) Capacity() int {
	return len(f.buffer) - 1
}

func (f *Fifo[T]) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

func (f *Fifo[T]) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write elements to fifo and return number of elements written
func (f *Fifo[T]) Write(elements []T) int {
	writeCounter := 0
	for _, element := range elements {
		if !f.Push(element) {
			break
		}
		writeCounter++
	}
	return writeCounter
}

// Push a single element, false if fifo is full
func (f *Fifo[T]) Push(element T) bool {
	writePosNext := f.writePos + 1
	if writePosNext == len(f.buffer) {
		writePosNext = 0
	}
	if writePosNext == f.readPos {
		return false
	}
	f.buffer[f.writePos] = element
	f.writePos = writePosNext
	return true
}

// Read elements from fifo and return number of elements read
func (f *Fifo[T]) Read(buffer []T) int {
	readCounter := 0
	for index := range buffer {
		element, ok := f.Pop()
		if !ok {
			break
		}
		buffer[index] = element
		readCounter++
	}
	return readCounter
}

// Oldest element without removing it
func (f *Fifo[T]) Peek() (T, bool) {
	var zero T
	if f.readPos == f.writePos {
		return zero, false
	}
	return f.buffer[f.readPos], true
}

// Remove and return oldest element
func (f *Fifo[T]) Pop() (T, bool) {
	var zero T
	if f.readPos == f.writePos {
		return zero, false
	}
	element := f.buffer[f.readPos]
	f.buffer[f.readPos] = zero
	f.readPos++
	if f.readPos == len(f.buffer) {
		f.readPos = 0
	}
	return element, true
}
