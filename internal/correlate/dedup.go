package correlate

import "time"

type seenEntry struct {
	id string
	at time.Time
}

// dedupSet is a FIFO bounded id set. Entries younger than floor survive past
// capacity until hardCap is reached.
type dedupSet struct {
	ids      map[string]struct{}
	queue    []seenEntry
	head     int
	capacity int
	floor    time.Duration
	hardCap  int
}

func newDedupSet(capacity int, floor time.Duration, hardCap int) *dedupSet {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	if hardCap < capacity {
		hardCap = capacity
	}
	return &dedupSet{
		ids:      make(map[string]struct{}, capacity),
		capacity: capacity,
		floor:    floor,
		hardCap:  hardCap,
	}
}

func (d *dedupSet) has(id string) bool {
	_, ok := d.ids[id]
	return ok
}

func (d *dedupSet) add(id string, now time.Time) {
	if _, ok := d.ids[id]; ok {
		return
	}
	d.ids[id] = struct{}{}
	d.queue = append(d.queue, seenEntry{id: id, at: now})
	d.evict(now)
}

func (d *dedupSet) len() int { return len(d.ids) }

func (d *dedupSet) evict(now time.Time) {
	for len(d.ids) > d.capacity {
		oldest := d.queue[d.head]
		if len(d.ids) <= d.hardCap && now.Sub(oldest.at) < d.floor {
			break
		}
		delete(d.ids, oldest.id)
		d.queue[d.head] = seenEntry{}
		d.head++
	}
	if d.head > 0 && d.head*2 >= len(d.queue) {
		d.queue = append(d.queue[:0], d.queue[d.head:]...)
		d.head = 0
	}
}
