package core

// Timer is a live schedule bound to one task. A new timer is stopped.
type Timer interface {
	Start()
	Stop()
}

// Ticker turns a schedule expression into a Timer that calls fn at each
// expressed time until stopped.
type Ticker interface {
	Schedule(spec string, fn func()) (Timer, error)
}
