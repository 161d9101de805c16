package perception

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_PublishLatest(t *testing.T) {
	s := NewStore()
	assert.Nil(t, s.Latest())
	assert.False(t, s.Latest().HasLine())

	slope := 2.0
	snap := &Snapshot{Slope: &slope, LastLineX: 170, FrameSeq: 1}
	s.Publish(snap)

	assert.Same(t, snap, s.Latest())
	assert.True(t, s.Latest().HasLine())

	select {
	case <-s.Updated():
	default:
		t.Fatal("Publish should signal Updated")
	}
}

func TestStore_UpdatedCoalesces(t *testing.T) {
	s := NewStore()
	s.Publish(&Snapshot{FrameSeq: 1})
	s.Publish(&Snapshot{FrameSeq: 2})

	<-s.Updated()
	select {
	case <-s.Updated():
		t.Fatal("notifications should coalesce")
	default:
	}
	assert.Equal(t, uint64(2), s.Latest().FrameSeq)
}

// A reader must always see a snapshot whose fields belong to one frame.
func TestStore_NoTornReads(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 2000 {
			seq := uint64(i)
			s.Publish(&Snapshot{FrameSeq: seq, LastLineX: i})
		}
	}()

	for range 2000 {
		if snap := s.Latest(); snap != nil && int(snap.FrameSeq) != snap.LastLineX {
			t.Fatalf("torn snapshot: seq %d, x %d", snap.FrameSeq, snap.LastLineX)
		}
	}
	wg.Wait()
}
