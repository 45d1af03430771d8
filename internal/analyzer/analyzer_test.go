package analyzer

import (
	"testing"

	"github.com/Personaz1/SMARTHOUSE/internal/events"
	"github.com/Personaz1/SMARTHOUSE/internal/snapshot"
)

type fakeSnapshotSource struct {
	snap snapshot.Snapshot
}

func (f *fakeSnapshotSource) Snapshot() snapshot.Snapshot { return f.snap }

func present(v bool) *bool { return &v }

func TestScanEmitsWasteLightInsight(t *testing.T) {
	source := &fakeSnapshotSource{snap: snapshot.Snapshot{
		Zones: map[string]snapshot.Zone{
			"living": {Light: "ON", Presence: present(false)},
		},
	}}
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	a := New(source, bus)
	a.scan()

	select {
	case evt := <-ch:
		if evt.Type != events.KindInsight || evt.Data["kind"] != "waste_light" || evt.Data["room"] != "living" {
			t.Errorf("got unexpected event %+v", evt)
		}
	default:
		t.Fatal("expected an insight event")
	}
}

func TestScanSkipsOccupiedRoom(t *testing.T) {
	source := &fakeSnapshotSource{snap: snapshot.Snapshot{
		Zones: map[string]snapshot.Zone{
			"living": {Light: "ON", Presence: present(true)},
		},
	}}
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	a := New(source, bus)
	a.scan()

	select {
	case evt := <-ch:
		t.Fatalf("expected no insight for occupied room, got %+v", evt)
	default:
	}
}

func TestScanEmitsWasteLightWhenPresenceUnknown(t *testing.T) {
	// A room with no motion sensor never reports presence at all; this must
	// fire the same as an explicit presence=false, not be treated as "don't
	// know, so don't fire" — matching the original analyzer's
	// presence.get(..., False) default.
	source := &fakeSnapshotSource{snap: snapshot.Snapshot{
		Zones: map[string]snapshot.Zone{
			"living": {Light: "ON"},
		},
	}}
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	a := New(source, bus)
	a.scan()

	select {
	case evt := <-ch:
		if evt.Type != events.KindInsight || evt.Data["kind"] != "waste_light" || evt.Data["room"] != "living" {
			t.Errorf("got unexpected event %+v", evt)
		}
	default:
		t.Fatal("expected an insight event when presence is absent")
	}
}
