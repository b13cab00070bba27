package broadcast

import "github.com/drblury/dmxrelay/internal/protocol"

// Mirror receives a copy of every registry mutation. Offer must not block.
type Mirror interface {
	Offer(tag protocol.Tag, frame []byte) bool
}

// Fanout publishes registry mutations to every client and, when configured,
// to the mirror.
type Fanout struct {
	dispatcher *Dispatcher
	mirror     Mirror
}

// NewFanout returns a registry publisher. mirror may be nil.
func NewFanout(d *Dispatcher, mirror Mirror) *Fanout {
	return &Fanout{dispatcher: d, mirror: mirror}
}

func (f *Fanout) Broadcast(frame []byte) int {
	n := f.dispatcher.BroadcastTagged(protocol.TagLightUpdate, frame)
	if f.mirror != nil {
		f.mirror.Offer(protocol.TagLightUpdate, frame)
	}
	return n
}
