package app

import (
	"testing"
	"time"
)

func TestEditGuard(t *testing.T) {
	g := NewEditGuard(5 * time.Second)
	t0 := time.Unix(1000, 0)
	if !g.Allow(t0) {
		t.Fatal("first edit must be allowed")
	}
	g.Record(t0)
	if g.Allow(t0.Add(4999 * time.Millisecond)) {
		t.Fatal("edit inside spacing allowed")
	}
	if !g.Allow(t0.Add(5 * time.Second)) {
		t.Fatal("edit at spacing boundary refused")
	}
}

func TestRenameGuard_Burst(t *testing.T) {
	const (
		window  = 10 * time.Minute
		spacing = 61 * time.Second
	)
	g := NewRenameGuard(2, window, spacing)
	t0 := time.Unix(1000, 0)

	// A count change every second for 45 minutes.
	var renames []time.Time
	for s := 0; s < 45*60; s++ {
		now := t0.Add(time.Duration(s) * time.Second)
		if g.Allow(now) {
			g.Record(now)
			renames = append(renames, now)
		}
	}

	if len(renames) < 4 {
		t.Fatalf("guard too strict: %d renames", len(renames))
	}
	for i := 1; i < len(renames); i++ {
		if d := renames[i].Sub(renames[i-1]); d < spacing {
			t.Fatalf("renames %d and %d only %s apart", i-1, i, d)
		}
	}
	for i := 2; i < len(renames); i++ {
		if d := renames[i].Sub(renames[i-2]); d <= window {
			t.Fatalf("three renames within %s", d)
		}
	}
}

func TestRenameGuard_Sequence(t *testing.T) {
	g := NewRenameGuard(2, 10*time.Minute, 61*time.Second)
	t0 := time.Unix(1000, 0)

	g.Record(t0)
	if g.Allow(t0.Add(60 * time.Second)) {
		t.Fatal("second rename inside spacing allowed")
	}
	if !g.Allow(t0.Add(61 * time.Second)) {
		t.Fatal("second rename after spacing refused")
	}
	g.Record(t0.Add(61 * time.Second))
	if g.Allow(t0.Add(9 * time.Minute)) {
		t.Fatal("third rename inside window allowed")
	}
	if !g.Allow(t0.Add(10*time.Minute + time.Second)) {
		t.Fatal("rename after oldest left the window refused")
	}
	if n := len(g.History()); n != 1 {
		t.Fatalf("history not pruned: %d entries", n)
	}
}
