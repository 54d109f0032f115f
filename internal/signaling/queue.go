package signaling

type queued struct {
	data     []byte
	priority bool
}

// outbox holds messages sent while disconnected. When full, the oldest
// non-priority entry makes room.
type outbox struct {
	size    int
	entries []queued
}

// push appends an entry and reports whether something had to be discarded.
func (o *outbox) push(q queued) (dropped bool) {
	if o.size <= 0 {
		return true
	}
	if len(o.entries) >= o.size {
		victim := -1
		for i, e := range o.entries {
			if !e.priority {
				victim = i
				break
			}
		}
		switch {
		case victim >= 0:
			o.entries = append(o.entries[:victim], o.entries[victim+1:]...)
		case !q.priority:
			// Everything queued outranks the newcomer.
			return true
		default:
			o.entries = o.entries[1:]
		}
		dropped = true
	}
	o.entries = append(o.entries, q)
	return dropped
}

// pop removes the oldest entry.
func (o *outbox) pop() (queued, bool) {
	if len(o.entries) == 0 {
		return queued{}, false
	}
	q := o.entries[0]
	o.entries = o.entries[1:]
	return q, true
}

// pushFront puts an entry back at the head after a failed write.
func (o *outbox) pushFront(q queued) {
	o.entries = append([]queued{q}, o.entries...)
	if len(o.entries) > o.size && o.size > 0 {
		o.entries = o.entries[:o.size]
	}
}

func (o *outbox) len() int {
	return len(o.entries)
}
