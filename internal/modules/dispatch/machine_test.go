// README: Call lifecycle tests (transition table, arrival evidence, priority mapping).
package dispatch

import (
	"errors"
	"testing"
	"time"

	"siaga/internal/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// forward path
		{StatusReceived, StatusDispatched, true},
		{StatusDispatched, StatusEnRoute, true},
		{StatusEnRoute, StatusArrived, true},
		{StatusArrived, StatusCompleted, true},
		// cancels from every non-terminal state
		{StatusReceived, StatusCancelled, true},
		{StatusDispatched, StatusCancelled, true},
		{StatusEnRoute, StatusCancelled, true},
		{StatusArrived, StatusCancelled, true},
		// skipping
		{StatusReceived, StatusEnRoute, false},
		{StatusReceived, StatusArrived, false},
		{StatusDispatched, StatusArrived, false},
		{StatusReceived, StatusCompleted, false},
		// backwards / self loops
		{StatusDispatched, StatusReceived, false},
		{StatusArrived, StatusArrived, false},
		// terminal
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusReceived, false},
		{StatusCompleted, StatusReceived, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPriorityFromSeverity(t *testing.T) {
	cases := map[string]Priority{
		"berat":   PriorityCritical,
		"BERAT":   PriorityCritical,
		"sedang":  PriorityHigh,
		"ringan":  PriorityMedium,
		"":        PriorityMedium,
		"unknown": PriorityMedium,
	}
	for in, want := range cases {
		if got := PriorityFromSeverity(in); got != want {
			t.Errorf("PriorityFromSeverity(%q) = %s, want %s", in, got, want)
		}
	}
}

var jakarta = types.Point{Lat: -6.2, Lng: 106.8}

func newCall(t *testing.T) EmergencyCall {
	t.Helper()
	return Create(Report{ID: "rep-1", Severity: "berat", EmergencyType: "trauma", Location: &jakarta}, time.Unix(1700000000, 0))
}

func TestCreate(t *testing.T) {
	c := newCall(t)
	if c.Status != StatusReceived || c.Priority != PriorityCritical {
		t.Fatalf("unexpected call: %+v", c)
	}
	if c.ID == "" || c.Target == nil || *c.Target != jakarta {
		t.Fatalf("id/target not set: %+v", c)
	}
	if c.StatusVersion != 0 {
		t.Fatalf("version = %d", c.StatusVersion)
	}
}

func TestAdvance_RejectsSkipAndKeepsInput(t *testing.T) {
	c := newCall(t)
	_, _, err := Advance(c, StatusArrived, nil, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
	if c.Status != StatusReceived || c.StatusVersion != 0 {
		t.Fatalf("input call changed: %+v", c)
	}
}

func TestAdvance_DispatchNeedsAmbulance(t *testing.T) {
	c := newCall(t)
	if _, _, err := Advance(c, StatusDispatched, nil, time.Now()); !errors.Is(err, ErrMissingAmbulance) {
		t.Fatalf("want ErrMissingAmbulance, got %v", err)
	}
	got, tr, err := Advance(c, StatusDispatched, &Evidence{AmbulanceID: "amb-1", HospitalID: "rs-1"}, time.Now())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if *got.AmbulanceID != "amb-1" || *got.HospitalID != "rs-1" {
		t.Fatalf("assignment missing: %+v", got)
	}
	if tr.From != StatusReceived || tr.To != StatusDispatched || tr.CallID != c.ID {
		t.Fatalf("bad transition record: %+v", tr)
	}
}

func arrive(t *testing.T, at types.Point) EmergencyCall {
	t.Helper()
	now := time.Now()
	c := newCall(t)
	c, _, _ = Advance(c, StatusDispatched, &Evidence{AmbulanceID: "amb-1"}, now)
	c, _, _ = Advance(c, StatusEnRoute, nil, now)
	c, _, err := Advance(c, StatusArrived, &Evidence{Coordinate: &at}, now)
	if err != nil {
		t.Fatalf("arrive: %v", err)
	}
	return c
}

func TestAdvance_ArrivalWithin100mIsConfirmed(t *testing.T) {
	// ~50 m north of the target
	c := arrive(t, types.Point{Lat: -6.2 + 0.00045, Lng: 106.8})
	if c.ArrivalNote != ArrivalConfirmed {
		t.Fatalf("arrival note = %q", c.ArrivalNote)
	}
	if c.ArrivedAt == nil {
		t.Fatal("ArrivedAt not set")
	}
}

func TestAdvance_ArrivalFarAwayIsDiscrepancy(t *testing.T) {
	// ~500 m north of the target
	c := arrive(t, types.Point{Lat: -6.2 + 0.0045, Lng: 106.8})
	if c.Status != StatusArrived {
		t.Fatalf("discrepancy must not block arrival, status = %s", c.Status)
	}
	if c.ArrivalNote != "discrepancy: 500m" {
		t.Fatalf("arrival note = %q", c.ArrivalNote)
	}
}

func TestCompleteOnlyFromArrived(t *testing.T) {
	c := newCall(t)
	if _, _, err := Complete(c, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete from received: %v", err)
	}
	c = arrive(t, jakarta)
	done, _, err := Complete(c, time.Now())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil || done.StatusVersion != 4 {
		t.Fatalf("unexpected completed call: %+v", done)
	}
}

func TestCancel(t *testing.T) {
	c := newCall(t)
	got, tr, err := Cancel(c, "duplicate report", time.Now())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.CancelledAt == nil || tr.Note != "duplicate report" {
		t.Fatalf("cancel did not record reason: %+v %+v", got, tr)
	}
	if _, _, err := Cancel(got, "again", time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel of cancelled call: %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	now := time.Now()
	c := newCall(t)
	steps := []struct {
		next Status
		ev   *Evidence
	}{
		{StatusDispatched, &Evidence{AmbulanceID: "amb-9"}},
		{StatusEnRoute, nil},
		{StatusArrived, &Evidence{Coordinate: &jakarta}},
		{StatusCompleted, nil},
	}
	for i, st := range steps {
		var err error
		c, _, err = Advance(c, st.next, st.ev, now)
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, st.next, err)
		}
		if c.StatusVersion != i+1 {
			t.Fatalf("step %d version = %d", i, c.StatusVersion)
		}
	}
	if !c.Status.Terminal() {
		t.Fatalf("final status %s not terminal", c.Status)
	}
}
