package stream

// Listener receives tokens in stream order. OnToken is called synchronously
// from the decode loop, so a slow listener slows decoding down.
type Listener interface {
	OnToken(ev TokenEvent)
}

// ListenerFunc adapts a function into a Listener.
type ListenerFunc func(ev TokenEvent)

func (f ListenerFunc) OnToken(ev TokenEvent) {
	f(ev)
}

// Discard is a Listener that drops every event.
var Discard Listener = ListenerFunc(func(TokenEvent) {})

// Multi fans each event out to every non-nil listener, in argument order.
func Multi(listeners ...Listener) Listener {
	ls := make([]Listener, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			ls = append(ls, l)
		}
	}
	switch len(ls) {
	case 0:
		return Discard
	case 1:
		return ls[0]
	}
	return ListenerFunc(func(ev TokenEvent) {
		for _, l := range ls {
			l.OnToken(ev)
		}
	})
}
