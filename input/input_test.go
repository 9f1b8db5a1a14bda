package input

import (
	"testing"

	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/netconfig"
)

var (
	jump  = netconfig.ActionsFrom(netconfig.ActionJump)
	right = netconfig.ActionsFrom(netconfig.ActionRight)
)

// script returns a source pressing the given state on the listed ticks.
func script(pressed map[netconfig.Tick]netconfig.ActionState) ActionSource {
	return ActionSourceFunc(func(tick netconfig.Tick) netconfig.ActionState {
		return pressed[tick]
	})
}

func TestCaptureRetainsEveryTick(t *testing.T) {
	c := NewCapture(script(map[netconfig.Tick]netconfig.ActionState{3: jump, 4: jump}), 16, 4, 100)
	for tick := netconfig.Tick(1); tick <= 6; tick++ {
		c.Sample(tick)
	}
	for tick, want := range map[netconfig.Tick]netconfig.ActionState{1: 0, 2: 0, 3: jump, 4: jump, 5: 0, 6: 0} {
		got, ok := c.Actions(tick)
		if !ok || got != want {
			t.Fatalf("tick %d: expected %s, got %s (ok=%v)", tick, want, got, ok)
		}
	}
}

func TestCaptureSendsDiffsOnlyWhenChanged(t *testing.T) {
	c := NewCapture(script(map[netconfig.Tick]netconfig.ActionState{10: jump}), 32, 3, 100)

	if _, _, send := c.Sample(1); !send {
		t.Fatalf("expected the first sample to be sent")
	}
	for tick := netconfig.Tick(2); tick < 10; tick++ {
		if _, _, send := c.Sample(tick); send {
			t.Fatalf("tick %d: expected unchanged input to be suppressed", tick)
		}
	}

	_, msg, send := c.Sample(10)
	if !send {
		t.Fatalf("expected a change to be sent")
	}
	if msg.Start != 8 || msg.End() != 10 || msg.Base != 0 {
		t.Fatalf("expected window 8..10 from base 0, got %d..%d base %s", msg.Start, msg.End(), msg.Base)
	}
	if msg.Diffs[2].Pressed != jump || !msg.Diffs[0].Empty() || !msg.Diffs[1].Empty() {
		t.Fatalf("expected only tick 10 to press jump, got %+v", msg.Diffs)
	}

	// The release at 11 and the press at 10 are both repeated until they
	// fall out of the window.
	for tick := netconfig.Tick(11); tick <= 13; tick++ {
		if _, _, send := c.Sample(tick); !send {
			t.Fatalf("tick %d: expected redundant send inside window", tick)
		}
	}
	if _, _, send := c.Sample(14); send {
		t.Fatalf("expected sending to stop once the window is quiet")
	}
}

func TestCaptureKeepalive(t *testing.T) {
	c := NewCapture(script(nil), 32, 2, 5)
	c.Sample(1)
	sent := 0
	for tick := netconfig.Tick(2); tick <= 11; tick++ {
		if _, _, send := c.Sample(tick); send {
			sent++
		}
	}
	if sent != 2 {
		t.Fatalf("expected 2 keepalive sends over 10 quiet ticks, got %d", sent)
	}
}

func TestCaptureFillsSkippedTicks(t *testing.T) {
	c := NewCapture(ActionSourceFunc(func(tick netconfig.Tick) netconfig.ActionState {
		if tick == 5 {
			return right
		}
		return jump
	}), 16, 4, 1)
	c.Sample(5)
	c.Sample(9)
	for tick := netconfig.Tick(6); tick < 9; tick++ {
		if got, _ := c.Actions(tick); got != right {
			t.Fatalf("tick %d: expected held %s, got %s", tick, right, got)
		}
	}
	if got, _ := c.Actions(9); got != jump {
		t.Fatalf("expected %s at 9, got %s", jump, got)
	}
}

func TestReceiverRebuildsAndHolds(t *testing.T) {
	r := NewReceiver(64, 8)
	msg := messages.Input{
		Start: 10,
		Base:  right,
		Diffs: []messages.ActionDiff{
			{},
			messages.DiffActions(right, right|jump),
			messages.DiffActions(right|jump, 0),
		},
	}
	if n, err := r.Apply(msg); err != nil || n != 3 {
		t.Fatalf("expected 3 ticks stored, got %d (%v)", n, err)
	}

	want := map[netconfig.Tick]netconfig.ActionState{
		9:  0,
		10: right,
		11: right | jump,
		12: 0,
		13: 0,
	}
	for tick := netconfig.Tick(9); tick <= 13; tick++ {
		if got := r.ActionsFor(tick); got != want[tick] {
			t.Fatalf("tick %d: expected %s, got %s", tick, want[tick], got)
		}
	}
}

func TestReceiverHoldsAcrossGap(t *testing.T) {
	r := NewReceiver(64, 8)
	r.Apply(messages.Input{Start: 1, Diffs: []messages.ActionDiff{{Pressed: jump}}})
	r.ActionsFor(1)
	if got := r.ActionsFor(2); got != jump {
		t.Fatalf("expected missing tick to hold %s, got %s", jump, got)
	}
}

func TestReceiverIgnoresConsumedTicks(t *testing.T) {
	r := NewReceiver(64, 8)
	r.ActionsFor(5)
	n, err := r.Apply(messages.Input{Start: 4, Diffs: []messages.ActionDiff{{Pressed: jump}, {}, {}}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != 1 || r.Has(5) || !r.Has(6) {
		t.Fatalf("expected only tick 6 stored, got %d stored", n)
	}
}

func TestReceiverRejectsBadMessages(t *testing.T) {
	r := NewReceiver(16, 4)
	if _, err := r.Apply(messages.Input{Start: 1}); err == nil {
		t.Fatalf("expected empty input to be rejected")
	}
	if _, err := r.Apply(messages.Input{Start: 1, Diffs: make([]messages.ActionDiff, 5)}); err == nil {
		t.Fatalf("expected oversized window to be rejected")
	}
	r.ActionsFor(1)
	if _, err := r.Apply(messages.Input{Start: 40, Diffs: make([]messages.ActionDiff, 1)}); err == nil {
		t.Fatalf("expected input far beyond the buffer to be rejected")
	}
}

func TestCaptureAndReceiverAgree(t *testing.T) {
	pressed := map[netconfig.Tick]netconfig.ActionState{}
	for tick := netconfig.Tick(20); tick < 30; tick++ {
		pressed[tick] = right
	}
	pressed[25] = right | jump
	c := NewCapture(script(pressed), 64, 4, 8)
	r := NewReceiver(64, 4)

	for tick := netconfig.Tick(1); tick <= 40; tick++ {
		_, msg, send := c.Sample(tick)
		// Drop every third message; redundancy must cover the gap.
		if send && tick%3 != 0 {
			if _, err := r.Apply(msg); err != nil {
				t.Fatalf("tick %d: %v", tick, err)
			}
		}
	}
	for tick := netconfig.Tick(1); tick <= 40; tick++ {
		want, _ := c.Actions(tick)
		if got := r.ActionsFor(tick); got != want {
			t.Fatalf("tick %d: expected %s, got %s", tick, want, got)
		}
	}
}
