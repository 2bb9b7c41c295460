package metrics

import (
	"sync"
	"testing"
)

func TestRelayCounters(t *testing.T) {
	var m Relay
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Relayed(100, 1)
		}()
	}
	wg.Wait()
	m.Admitted()
	m.Rejected()
	m.PublisherUp()
	m.ViewerUp()
	m.ViewerUp()
	m.ViewerDown()

	s := m.Snapshot()
	if s.FramesRelayed != 50 || s.BytesRelayed != 5000 || s.FramesDropped != 50 {
		t.Fatalf("unexpected frame counters: %+v", s)
	}
	if s.Admitted != 1 || s.Rejected != 1 || s.Publishers != 1 || s.Viewers != 1 {
		t.Fatalf("unexpected gauges: %+v", s)
	}
}
