package util

import (
	"sync"
	"time"

	"github.com/gansidui/skiplist"
)

type timerNode struct {
	at    time.Time
	seq   uint64
	value any
}

func (n *timerNode) Less(other interface{}) bool {
	o := other.(*timerNode)
	if n.at.Equal(o.at) {
		return n.seq < o.seq
	}
	return n.at.Before(o.at)
}

// TimerQueue keeps values ordered by deadline. Values with equal deadlines
// pop in push order. It is safe for concurrent use.
type TimerQueue struct {
	mu  sync.Mutex
	skl *skiplist.SkipList
	seq uint64
}

func NewTimerQueue() *TimerQueue {
	return &TimerQueue{skl: skiplist.New()}
}

// Push schedules v to expire at.
func (q *TimerQueue) Push(at time.Time, v any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.skl.Insert(&timerNode{at: at, seq: q.seq, value: v})
}

// PopExpired removes and returns every value whose deadline is not after now, earliest first.
func (q *TimerQueue) PopExpired(now time.Time) []any {
	q.mu.Lock()
	defer q.mu.Unlock()

	var expired []any
	for q.skl.Len() > 0 {
		node := q.skl.GetElementByRank(1).Value.(*timerNode)
		if node.at.After(now) {
			break
		}
		q.skl.Delete(node)
		expired = append(expired, node.value)
	}
	return expired
}

// Next returns the earliest deadline, or false if the queue is empty.
func (q *TimerQueue) Next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.skl.Len() == 0 {
		return time.Time{}, false
	}
	return q.skl.GetElementByRank(1).Value.(*timerNode).at, true
}

func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.skl.Len()
}
