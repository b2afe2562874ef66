package executor

// InputQueue buffers interactive input from the session reader until the
// supervision loop can write it to the PTY. Pushes never block; when the
// queue is full the chunk is dropped and the caller is told.
type InputQueue struct {
	ch chan []byte
}

const defaultInputQueueDepth = 64

// NewInputQueue creates a queue with the default depth.
func NewInputQueue() *InputQueue {
	return &InputQueue{ch: make(chan []byte, defaultInputQueueDepth)}
}

// TryPush enqueues a chunk without blocking. It reports whether the chunk
// was accepted.
func (q *InputQueue) TryPush(data []byte) bool {
	select {
	case q.ch <- data:
		return true
	default:
		return false
	}
}

// TryPop dequeues one chunk without blocking.
func (q *InputQueue) TryPop() ([]byte, bool) {
	select {
	case data := <-q.ch:
		return data, true
	default:
		return nil, false
	}
}

// drain returns every chunk currently queued, without blocking.
func (q *InputQueue) drain() [][]byte {
	var chunks [][]byte
	for {
		select {
		case data := <-q.ch:
			chunks = append(chunks, data)
		default:
			return chunks
		}
	}
}
