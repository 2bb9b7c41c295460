package metrics

import "sync/atomic"

// Relay counts media relay activity. Zero value is ready to use.
type Relay struct {
	admitted       atomic.Int64
	rejected       atomic.Int64
	publishers     atomic.Int64
	viewers        atomic.Int64
	framesRelayed  atomic.Int64
	bytesRelayed   atomic.Int64
	framesDropped  atomic.Int64
	publisherSwaps atomic.Int64
}

// Snapshot is a point-in-time copy for the /metrics endpoint.
type Snapshot struct {
	Admitted       int64 `json:"admitted"`
	Rejected       int64 `json:"rejected"`
	Publishers     int64 `json:"publishers"`
	Viewers        int64 `json:"viewers"`
	FramesRelayed  int64 `json:"framesRelayed"`
	BytesRelayed   int64 `json:"bytesRelayed"`
	FramesDropped  int64 `json:"framesDropped"`
	PublisherSwaps int64 `json:"publisherSwaps"`
}

func (r *Relay) Admitted()         { r.admitted.Add(1) }
func (r *Relay) Rejected()         { r.rejected.Add(1) }
func (r *Relay) PublisherSwapped() { r.publisherSwaps.Add(1) }

func (r *Relay) PublisherUp()   { r.publishers.Add(1) }
func (r *Relay) PublisherDown() { r.publishers.Add(-1) }
func (r *Relay) ViewerUp()      { r.viewers.Add(1) }
func (r *Relay) ViewerDown()    { r.viewers.Add(-1) }

// Relayed records one frame fanned out; dropped counts viewers whose buffer was full.
func (r *Relay) Relayed(bytes int, dropped int) {
	r.framesRelayed.Add(1)
	r.bytesRelayed.Add(int64(bytes))
	if dropped > 0 {
		r.framesDropped.Add(int64(dropped))
	}
}

func (r *Relay) Snapshot() Snapshot {
	return Snapshot{
		Admitted:       r.admitted.Load(),
		Rejected:       r.rejected.Load(),
		Publishers:     r.publishers.Load(),
		Viewers:        r.viewers.Load(),
		FramesRelayed:  r.framesRelayed.Load(),
		BytesRelayed:   r.bytesRelayed.Load(),
		FramesDropped:  r.framesDropped.Load(),
		PublisherSwaps: r.publisherSwaps.Load(),
	}
}
