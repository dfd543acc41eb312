package broker

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type inflightOffset struct {
	msg  kafka.Message
	done bool
}

// offsetWatermark tracks fetched offsets per partition and releases a commit
// only once every earlier offset on that partition has been settled. Kafka
// stores one committed offset per partition, so committing past an
// unfinished message would skip it after a restart.
type offsetWatermark struct {
	mu         sync.Mutex
	partitions map[int][]inflightOffset
}

func newOffsetWatermark() *offsetWatermark {
	return &offsetWatermark{partitions: make(map[int][]inflightOffset)}
}

// track registers a fetched message. Messages arrive in offset order per
// partition.
func (w *offsetWatermark) track(m kafka.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partitions[m.Partition] = append(w.partitions[m.Partition], inflightOffset{msg: m})
}

// settle marks msgs done and returns, per partition, the highest message that
// is now safe to commit.
func (w *offsetWatermark) settle(msgs ...kafka.Message) []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	touched := make(map[int]struct{}, 1)
	for _, m := range msgs {
		pending := w.partitions[m.Partition]
		for i := range pending {
			if pending[i].msg.Offset == m.Offset {
				pending[i].done = true
				touched[m.Partition] = struct{}{}
				break
			}
		}
	}

	var commits []kafka.Message
	for partition := range touched {
		pending := w.partitions[partition]
		n := 0
		for n < len(pending) && pending[n].done {
			n++
		}
		if n == 0 {
			continue
		}
		commits = append(commits, pending[n-1].msg)
		if n == len(pending) {
			delete(w.partitions, partition)
		} else {
			w.partitions[partition] = append([]inflightOffset(nil), pending[n:]...)
		}
	}
	return commits
}

// inflight counts tracked messages not yet released for commit.
func (w *offsetWatermark) inflight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, pending := range w.partitions {
		n += len(pending)
	}
	return n
}
