package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLoopback_GetPutRoundTrip(t *testing.T) {
	group := NewLoopbackGroup(2)
	buf := make([]byte, 16)
	group[1].Bind(1, buf)

	src := []byte("sixteen bytes!!!")[:16]
	if _, err := group[0].Put(context.Background(), 1, 1, 0, src); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	dst := make([]byte, 16)
	if _, err := group[0].Get(context.Background(), dst, 1, 1, 0); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(dst) != string(src) {
		t.Fatalf("Get returned %q, want %q", dst, src)
	}
}

func TestLoopback_GetUnboundSegmentErrors(t *testing.T) {
	l := NewLoopback(0, 1)
	if _, err := l.Get(context.Background(), make([]byte, 4), 0, 99, 0); err == nil {
		t.Fatal("Get against an unbound segment should fail")
	}
}

func TestLoopback_GetOutOfRangeErrors(t *testing.T) {
	l := NewLoopback(0, 1)
	l.Bind(1, make([]byte, 4))
	if _, err := l.Get(context.Background(), make([]byte, 8), 0, 1, 0); err == nil {
		t.Fatal("Get past the end of a bound segment should fail")
	}
}

func TestLoopback_SendRecv(t *testing.T) {
	group := NewLoopbackGroup(2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 5)
		handle, err := group[1].Recv(context.Background(), 1, 42, buf)
		if err != nil {
			t.Errorf("Recv failed: %v", err)
			return
		}
		if err := handle.Wait(context.Background()); err != nil {
			t.Errorf("handle.Wait failed: %v", err)
		}
		if string(buf) != "hello" {
			t.Errorf("Recv got %q, want hello", buf)
		}
	}()

	if _, err := group[0].Send(context.Background(), 1, 42, []byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	wg.Wait()
}

func TestLoopback_RecvRespectsContextCancellation(t *testing.T) {
	l := NewLoopback(0, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Recv(ctx, 0, 7, make([]byte, 1)); err == nil {
		t.Fatal("Recv with no matching Send should time out via ctx")
	}
}

func TestLoopback_AllToAll(t *testing.T) {
	group := NewLoopbackGroup(3)
	var wg sync.WaitGroup
	recvs := make([][][]byte, 3)
	for i := range group {
		recvs[i] = make([][]byte, 3)
		for j := range recvs[i] {
			recvs[i][j] = make([]byte, 1)
		}
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			defer wg.Done()
			send := make([][]byte, 3)
			for j := range send {
				send[j] = []byte{byte('0' + i)}
			}
			if err := group[i].AllToAll(context.Background(), send, recvs[i]); err != nil {
				t.Errorf("AllToAll on unit %d failed: %v", i, err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := byte('0' + j)
			if recvs[i][j][0] != want {
				t.Errorf("unit %d recv[%d] = %q, want %q", i, j, recvs[i][j], want)
			}
		}
	}
}

func TestLoopback_NumUnitsAndLocalUnit(t *testing.T) {
	group := NewLoopbackGroup(4)
	for i, l := range group {
		if l.NumUnits() != 4 {
			t.Errorf("unit %d NumUnits() = %d, want 4", i, l.NumUnits())
		}
		if l.LocalUnit() != UnitID(i) {
			t.Errorf("unit %d LocalUnit() = %d, want %d", i, l.LocalUnit(), i)
		}
	}
}
