package redisbroker

// keys names every Redis key used by one queue: {prefix}:{queue}:...
type keys struct {
	base string
}

func newKeys(prefix, queue string) keys {
	return keys{base: prefix + ":" + queue + ":"}
}

func (k keys) job(id string) string { return k.base + "job:" + id }

// wait is the list of ready job ids. New ids are pushed on the left and
// the worker takes from the right.
func (k keys) wait() string { return k.base + "wait" }

// active is the list of ids currently being delivered.
func (k keys) active() string { return k.base + "active" }

// delayed is the sorted set of ids waiting to be retried, scored by the
// retry time in unix milliseconds.
func (k keys) delayed() string { return k.base + "delayed" }

// completed and failed are sorted sets of finished ids scored by finish time.
func (k keys) completed() string { return k.base + "completed" }
func (k keys) failed() string    { return k.base + "failed" }
