package nut

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestFakePoller_Poll_ReturnsVariables(t *testing.T) {
	fp := &FakePoller{
		Variables: []Variable{
			{Name: "ups.status", Value: "OL"},
			{Name: "ups.load", Value: "8"},
		},
	}

	vars, err := fp.Poll()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vars) != 2 {
		t.Fatalf("got %d variables, want 2", len(vars))
	}
	if vars[0].Name != "ups.status" || vars[0].Value != "OL" {
		t.Errorf("vars[0] = %+v, want {ups.status OL}", vars[0])
	}
}

func TestFakePoller_Poll_ReturnsError(t *testing.T) {
	fp := &FakePoller{
		Err: errors.New("connection refused"),
	}

	_, err := fp.Poll()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if err.Error() != "connection refused" {
		t.Errorf("error = %q, want %q", err.Error(), "connection refused")
	}
}

func TestFakePoller_Poll_RecoverAfterError(t *testing.T) {
	fp := &FakePoller{
		Variables: []Variable{{Name: "ups.status", Value: "OL"}},
		Err:       errors.New("temporary failure"),
	}

	// First poll fails.
	if _, err := fp.Poll(); err == nil {
		t.Fatal("expected error on first poll")
	}

	// Clearing the error simulates reconnect; next poll succeeds.
	fp.Err = nil
	vars, err := fp.Poll()
	if err != nil {
		t.Fatalf("expected success after error cleared, got: %v", err)
	}
	if len(vars) != 1 {
		t.Errorf("got %d vars, want 1", len(vars))
	}
}

func TestFakePoller_CallCount(t *testing.T) {
	fp := &FakePoller{}
	for i := 1; i <= 3; i++ {
		fp.Poll() //nolint:errcheck
		if fp.CallCount != i {
			t.Errorf("CallCount = %d after %d calls, want %d", fp.CallCount, i, i)
		}
	}
}

func TestFakePoller_Close(t *testing.T) {
	fp := &FakePoller{}
	if fp.Closed {
		t.Fatal("Closed should be false initially")
	}
	if err := fp.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !fp.Closed {
		t.Error("Closed should be true after Close()")
	}
}

func TestFakePoller_Reset(t *testing.T) {
	fp := &FakePoller{
		Variables: []Variable{{Name: "ups.load", Value: "50"}},
		Err:       errors.New("some error"),
		CallCount: 5,
		Closed:    true,
	}
	fp.Reset()

	if fp.Variables != nil {
		t.Error("Reset should clear Variables")
	}
	if fp.Err != nil {
		t.Error("Reset should clear Err")
	}
	if fp.CallCount != 0 {
		t.Errorf("Reset should set CallCount=0, got %d", fp.CallCount)
	}
	if fp.Closed {
		t.Error("Reset should set Closed=false")
	}
}

func TestFakePoller_Sequence_StepsThrough(t *testing.T) {
	seq := [][]Variable{
		{{Name: "ups.status", Value: "OL"}},
		{{Name: "ups.status", Value: "OB DISCHRG"}},
		{{Name: "ups.status", Value: "OL CHRG"}},
	}
	fp := &FakePoller{Sequence: seq}

	for i, want := range []string{"OL", "OB DISCHRG", "OL CHRG"} {
		vars, err := fp.Poll()
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
		if vars[0].Value != want {
			t.Errorf("call %d: ups.status = %q, want %q", i+1, vars[0].Value, want)
		}
	}
}

func TestFakePoller_Sequence_RepeatsLastElement(t *testing.T) {
	fp := &FakePoller{
		Sequence: [][]Variable{
			{{Name: "ups.status", Value: "OB DISCHRG"}},
		},
	}
	for i := 0; i < 3; i++ {
		vars, err := fp.Poll()
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
		if vars[0].Value != "OB DISCHRG" {
			t.Errorf("call %d: ups.status = %q, want OB DISCHRG", i+1, vars[0].Value)
		}
	}
}

func TestFakePoller_Reset_ClearsSequence(t *testing.T) {
	fp := &FakePoller{
		Sequence: [][]Variable{{{Name: "ups.status", Value: "OL"}}},
	}
	fp.Reset()
	if fp.Sequence != nil {
		t.Error("Reset should clear Sequence")
	}
}

func TestFakePoller_Poll_ReturnsCopy(t *testing.T) {
	fp := &FakePoller{
		Variables: []Variable{{Name: "a", Value: "1"}},
	}
	vars, _ := fp.Poll()
	vars[0].Value = "mutated"

	// Original should be unchanged.
	if fp.Variables[0].Value != "1" {
		t.Error("Poll should return a copy, not a reference to the underlying slice")
	}
}

// ── VarsToMap ────────────────────────────────────────────────────────────────

func TestVarsToMap(t *testing.T) {
	vars := []Variable{
		{Name: "ups.status", Value: "OL"},
		{Name: "ups.load", Value: "8"},
	}
	m := VarsToMap(vars)
	if len(m) != 2 {
		t.Fatalf("len(m) = %d, want 2", len(m))
	}
	if m["ups.status"] != "OL" {
		t.Errorf(`m["ups.status"] = %q, want "OL"`, m["ups.status"])
	}
	if m["ups.load"] != "8" {
		t.Errorf(`m["ups.load"] = %q, want "8"`, m["ups.load"])
	}
}

func TestVarsToMap_Empty(t *testing.T) {
	if m := VarsToMap(nil); len(m) != 0 {
		t.Errorf("VarsToMap(nil) len = %d, want 0", len(m))
	}
}

// ── Client ──────────────────────────────────────────────────────────────────

// TestNewClient_ConnectionRefused verifies that NewClient returns an error
// when upsd is not listening.
func TestNewClient_ConnectionRefused(t *testing.T) {
	// Grab a free port then immediately close the listener so nothing is
	// listening on it when NewClient dials.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not allocate test port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = NewClient("127.0.0.1", port, "", "", "test")
	if err == nil {
		t.Fatal("NewClient should return an error when nothing is listening")
	}
}

// TestClient_Close_NilConn verifies that Close on an unconnected Client is a
// no-op that returns nil.
func TestClient_Close_NilConn(t *testing.T) {
	c := &Client{} // conn is nil
	if err := c.Close(); err != nil {
		t.Errorf("Close on nil conn returned error: %v", err)
	}
}

// TestClient_Snapshot_StaleError verifies that a realistic upsd
// "DATA-STALE" protocol error (the actual wording NUT returns when a
// driver has stopped polling the hardware) is classified as Stale, not
// Unreachable — this is the sole discriminator feeding the connection
// failsafe rule. The error is injected through doPoll, so the test pins
// Snapshot's classification of this wording, not go.nut's own wording.
func TestClient_Snapshot_StaleError(t *testing.T) {
	c := &Client{upsName: "test"}
	c.doPoll = func() ([]Variable, error) {
		return nil, errors.New("NUT error: ERR DATA-STALE")
	}

	outcome, _, err := c.Snapshot(context.Background())
	if outcome != Stale {
		t.Errorf("outcome = %v, want Stale", outcome)
	}
	if err == nil {
		t.Error("expected Snapshot to surface the underlying error")
	}
}

// TestClient_Snapshot_UnreachableError verifies a non-staleness failure
// (e.g. connection reset) is classified as Unreachable.
func TestClient_Snapshot_UnreachableError(t *testing.T) {
	c := &Client{upsName: "test"}
	c.doPoll = func() ([]Variable, error) {
		return nil, errors.New("listing UPS: read tcp: connection reset by peer")
	}

	outcome, _, err := c.Snapshot(context.Background())
	if outcome != Unreachable {
		t.Errorf("outcome = %v, want Unreachable", outcome)
	}
	if err == nil {
		t.Error("expected Snapshot to surface the underlying error")
	}
}

// TestClient_Snapshot_Success verifies a successful doPoll call classifies
// as Ok and parses the returned variables into a Sample.
func TestClient_Snapshot_Success(t *testing.T) {
	c := &Client{upsName: "test"}
	c.doPoll = func() ([]Variable, error) {
		return []Variable{{Name: "ups.status", Value: "OL"}}, nil
	}

	outcome, sample, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Ok {
		t.Errorf("outcome = %v, want Ok", outcome)
	}
	if !sample.HasStatus("OL") {
		t.Error("sample missing OL status token")
	}
}

// ── Sample parsing ───────────────────────────────────────────────────────────

func TestSampleFromVars_FullyPopulated(t *testing.T) {
	vars := map[string]string{
		"ups.status":            "OB DISCHRG",
		"battery.charge":        "85",
		"battery.runtime":       "1200",
		"ups.load":              "30",
		"input.voltage":         "0.0",
		"output.voltage":        "230.0",
		"input.voltage.nominal": "230",
		"input.transfer.low":    "170",
		"input.transfer.high":   "280",
	}
	s := SampleFromVars(vars)

	if !s.HasStatus("OB") || !s.HasStatus("DISCHRG") {
		t.Fatalf("StatusTokens = %v, want OB and DISCHRG", s.StatusTokens)
	}
	if !s.ChargePct.Valid || s.ChargePct.Value != 85 {
		t.Errorf("ChargePct = %+v, want {85 true}", s.ChargePct)
	}
	if !s.RuntimeS.Valid || s.RuntimeS.Value != 1200 {
		t.Errorf("RuntimeS = %+v, want {1200 true}", s.RuntimeS)
	}
	if !s.TransferLowV.Valid || s.TransferLowV.Value != 170 {
		t.Errorf("TransferLowV = %+v, want {170 true}", s.TransferLowV)
	}
}

func TestSampleFromVars_MissingFieldsStayAbsent(t *testing.T) {
	s := SampleFromVars(map[string]string{"ups.status": "OL"})
	if s.ChargePct.Valid {
		t.Error("ChargePct should be absent when battery.charge is missing")
	}
	if s.RuntimeS.Valid {
		t.Error("RuntimeS should be absent when battery.runtime is missing")
	}
}

func TestSampleFromVars_NonNumericIgnored(t *testing.T) {
	s := SampleFromVars(map[string]string{"battery.charge": "not-a-number"})
	if s.ChargePct.Valid {
		t.Error("ChargePct should be absent for a non-numeric value")
	}
}

func TestSampleFromVars_EmptyStatus(t *testing.T) {
	s := SampleFromVars(map[string]string{})
	if len(s.StatusTokens) != 0 {
		t.Errorf("StatusTokens = %v, want empty", s.StatusTokens)
	}
}

// ── FakeQuery ────────────────────────────────────────────────────────────────

func TestFakeQuery_SingleOutcome(t *testing.T) {
	fq := &FakeQuery{Outcome: Ok, Sample: Sample{StatusTokens: []string{"OL"}}}
	for i := 0; i < 3; i++ {
		outcome, sample, err := fq.Snapshot(context.Background())
		if outcome != Ok || err != nil {
			t.Fatalf("call %d: outcome=%v err=%v, want Ok/nil", i, outcome, err)
		}
		if !sample.HasStatus("OL") {
			t.Errorf("call %d: sample missing OL", i)
		}
	}
	if fq.CallCount != 3 {
		t.Errorf("CallCount = %d, want 3", fq.CallCount)
	}
}

func TestFakeQuery_Sequence(t *testing.T) {
	fq := &FakeQuery{
		Sequence: []QueryResult{
			{Outcome: Ok, Sample: Sample{StatusTokens: []string{"OL"}}},
			{Outcome: Stale},
			{Outcome: Unreachable, Err: errors.New("connection refused")},
		},
	}
	wantOutcomes := []Outcome{Ok, Stale, Unreachable}
	for i, want := range wantOutcomes {
		outcome, _, _ := fq.Snapshot(context.Background())
		if outcome != want {
			t.Errorf("call %d: outcome = %v, want %v", i, outcome, want)
		}
	}
	// Sequence exhausted: repeats last element.
	outcome, _, _ := fq.Snapshot(context.Background())
	if outcome != Unreachable {
		t.Errorf("after exhaustion: outcome = %v, want Unreachable (repeat of last)", outcome)
	}
}

func TestFakeQuery_Var(t *testing.T) {
	fq := &FakeQuery{Vars: map[string]string{"input.transfer.low": "170"}}
	v, ok := fq.Var(context.Background(), "input.transfer.low")
	if !ok || v != "170" {
		t.Errorf("Var = (%q, %v), want (170, true)", v, ok)
	}
	if _, ok := fq.Var(context.Background(), "missing.key"); ok {
		t.Error("Var should return false for an unseeded key")
	}
}
