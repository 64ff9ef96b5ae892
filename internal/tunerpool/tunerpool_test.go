package tunerpool

import (
	"sync"
	"testing"

	"github.com/carbondvr/carbon-dvr/internal/store"
)

var testTuners = []store.Tuner{
	{DeviceID: "A", IP: "10.0.0.1", Index: 0},
	{DeviceID: "A", IP: "10.0.0.1", Index: 1},
	{DeviceID: "B", IP: "10.0.0.2", Index: 0},
}

func TestAcquireOrderIsFIFO(t *testing.T) {
	p := New(testTuners)
	for i, want := range testTuners {
		got, ok := p.Acquire()
		if !ok {
			t.Fatalf("acquire %d: pool empty", i)
		}
		if got != want {
			t.Errorf("acquire %d = %+v, want %+v", i, got, want)
		}
	}
	if _, ok := p.Acquire(); ok {
		t.Error("acquire on drained pool succeeded")
	}
}

func TestReleaseGoesToBack(t *testing.T) {
	p := New(testTuners)
	first, _ := p.Acquire()
	p.Release(first)
	second, _ := p.Acquire()
	if second == first {
		t.Errorf("released tuner came back first; want next in line")
	}
}

func TestDoubleReleaseIsNoOp(t *testing.T) {
	p := New(testTuners[:1])
	tuner, _ := p.Acquire()
	p.Release(tuner)
	p.Release(tuner)
	if n := p.Available(); n != 1 {
		t.Errorf("available = %d after double release, want 1", n)
	}
	p.Release(store.Tuner{DeviceID: "ghost", IP: "0.0.0.0", Index: 9})
	if n := p.Available(); n != 1 {
		t.Errorf("available = %d after releasing unknown tuner, want 1", n)
	}
}

func TestPartitionInvariant(t *testing.T) {
	p := New(testTuners)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if tuner, ok := p.Acquire(); ok {
					p.Release(tuner)
				}
			}
		}()
	}
	wg.Wait()
	if p.Size() != len(testTuners) {
		t.Errorf("size = %d, want %d", p.Size(), len(testTuners))
	}
	if p.Available() != len(testTuners) {
		t.Errorf("available = %d after all releases, want %d", p.Available(), len(testTuners))
	}
}
