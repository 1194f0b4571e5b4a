package delivery_test

import (
	"context"
	"errors"
	"net/textproto"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bookdrop/internal/audit"
	"bookdrop/internal/delivery"
	"bookdrop/internal/services"
	"bookdrop/internal/testsupport"
)

type sentMessage struct {
	from string
	to   []string
	msg  []byte
}

type fakeSender struct {
	mu    sync.Mutex
	err   error
	panic bool
	sent  []sentMessage
}

func (f *fakeSender) Send(_ context.Context, from string, to []string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("transport exploded")
	}
	f.sent = append(f.sent, sentMessage{from: from, to: to, msg: msg})
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeMarker struct {
	mu     sync.Mutex
	marked []string
	err    error
}

func (m *fakeMarker) MarkDelivered(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, fingerprint)
	return m.err
}

func newAgent(t *testing.T, sender delivery.Sender, marker delivery.Marker) (*delivery.Agent, *audit.Log) {
	t.Helper()
	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "deliveries.jsonl"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { _ = auditLog.Close() })
	agent := delivery.NewAgent(delivery.Config{
		Sender:   sender,
		Marker:   marker,
		Audit:    auditLog,
		From:     "bot@example.com",
		MaxBytes: 4096,
		Clock:    func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	return agent, auditLog
}

func TestDeliverSuccessMarksCacheAndAudits(t *testing.T) {
	sender := &fakeSender{}
	marker := &fakeMarker{}
	agent, auditLog := newAgent(t, sender, marker)
	path := filepath.Join(t.TempDir(), "Dune.epub")
	testsupport.WriteFile(t, path, 1024)

	ctx := services.WithRunID(context.Background(), "run-1")
	rec := agent.Deliver(ctx, "fp1", path, "reader@kindle.com")
	if !rec.Outcome.OK || rec.Outcome.Err() != nil {
		t.Fatalf("expected success, got %+v", rec.Outcome)
	}
	if rec.SizeBytes != 1024 || rec.Destination != "reader@kindle.com" || rec.Fingerprint != "fp1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if sender.count() != 1 || sender.sent[0].from != "bot@example.com" || sender.sent[0].to[0] != "reader@kindle.com" {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
	if len(marker.marked) != 1 || marker.marked[0] != "fp1" {
		t.Fatalf("expected fp1 marked delivered, got %v", marker.marked)
	}

	entries, err := auditLog.Tail(0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 1 || !entries[0].OK || entries[0].RunID != "run-1" || entries[0].Title != "Dune" {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
}

func TestDeliverPreconditions(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name   string
		file   string
		size   int64
		create bool
		want   delivery.Reason
	}{
		{name: "unsupported extension", file: "Dune.djvu", size: 10, create: true, want: delivery.ReasonUnsupportedFormat},
		{name: "too large", file: "Big.pdf", size: 8192, create: true, want: delivery.ReasonAttachmentTooLarge},
		{name: "missing file", file: "Gone.epub", want: delivery.ReasonTransientNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{}
			marker := &fakeMarker{}
			agent, auditLog := newAgent(t, sender, marker)
			path := filepath.Join(dir, tc.file)
			if tc.create {
				testsupport.WriteFile(t, path, tc.size)
			}

			rec := agent.Deliver(context.Background(), "fp", path, "reader@kindle.com")
			if rec.Outcome.OK || rec.Outcome.Reason != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, rec.Outcome)
			}
			if sender.count() != 0 {
				t.Fatal("sender should not be called when preconditions fail")
			}
			if len(marker.marked) != 0 {
				t.Fatal("failed delivery must not be marked")
			}
			entries, _ := auditLog.Tail(0)
			if len(entries) != 1 || entries[0].Reason != string(tc.want) {
				t.Fatalf("expected one audit entry, got %+v", entries)
			}
		})
	}
}

func TestDeliverClassifiesTransportErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want delivery.Reason
		mark error
	}{
		{
			name: "bad credentials",
			err:  &delivery.SMTPError{Step: delivery.StepAuth, Err: &textproto.Error{Code: 535, Msg: "5.7.8 Username and Password not accepted"}},
			want: delivery.ReasonAuthFailure,
			mark: services.ErrUnauthorized,
		},
		{
			name: "message too big",
			err:  &delivery.SMTPError{Step: delivery.StepData, Err: &textproto.Error{Code: 552, Msg: "5.3.4 Message size exceeds fixed limit"}},
			want: delivery.ReasonAttachmentTooLarge,
			mark: services.ErrValidation,
		},
		{
			name: "greylisted",
			err:  &delivery.SMTPError{Step: delivery.StepEnvelope, Err: &textproto.Error{Code: 451, Msg: "4.7.1 Try again later"}},
			want: delivery.ReasonTransientNetwork,
			mark: services.ErrTransient,
		},
		{
			name: "connection refused",
			err:  &delivery.SMTPError{Step: delivery.StepConnect, Err: errors.New("dial tcp: connection refused")},
			want: delivery.ReasonTransientNetwork,
			mark: services.ErrTransient,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender := &fakeSender{err: tc.err}
			marker := &fakeMarker{}
			agent, _ := newAgent(t, sender, marker)
			path := filepath.Join(t.TempDir(), "Dune.epub")
			testsupport.WriteFile(t, path, 100)

			rec := agent.Deliver(context.Background(), "fp", path, "reader@kindle.com")
			if rec.Outcome.Reason != tc.want {
				t.Fatalf("reason = %s, want %s", rec.Outcome.Reason, tc.want)
			}
			err := rec.Outcome.Err()
			if !errors.Is(err, tc.mark) {
				t.Fatalf("expected marker %v, got %v", tc.mark, err)
			}
			if services.ReasonOf(err) != string(tc.want) {
				t.Fatalf("ReasonOf = %q", services.ReasonOf(err))
			}
			if len(marker.marked) != 0 {
				t.Fatal("failed delivery must not be marked")
			}
		})
	}
}

func TestDeliverRecoversFromSenderPanic(t *testing.T) {
	agent, auditLog := newAgent(t, &fakeSender{panic: true}, &fakeMarker{})
	path := filepath.Join(t.TempDir(), "Dune.epub")
	testsupport.WriteFile(t, path, 100)

	rec := agent.Deliver(context.Background(), "fp", path, "reader@kindle.com")
	if rec.Outcome.OK || rec.Outcome.Reason != delivery.ReasonTransientNetwork {
		t.Fatalf("expected transient failure, got %+v", rec.Outcome)
	}
	entries, _ := auditLog.Tail(0)
	if len(entries) != 1 {
		t.Fatalf("expected panic attempt to be audited, got %d entries", len(entries))
	}
}

func TestDeliverReportsMarkFailureInDetail(t *testing.T) {
	agent, _ := newAgent(t, &fakeSender{}, &fakeMarker{err: errors.New("database is locked")})
	path := filepath.Join(t.TempDir(), "Dune.epub")
	testsupport.WriteFile(t, path, 100)

	rec := agent.Deliver(context.Background(), "fp", path, "reader@kindle.com")
	if !rec.Outcome.OK {
		t.Fatalf("send succeeded so outcome should be OK, got %+v", rec.Outcome)
	}
	if rec.Outcome.Detail == "" {
		t.Fatal("expected detail to mention the cache failure")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want delivery.Reason
	}{
		{nil, ""},
		{&delivery.SMTPError{Step: delivery.StepAuth, Err: errors.New("smtp: server doesn't support AUTH")}, delivery.ReasonAuthFailure},
		{&delivery.SMTPError{Step: delivery.StepAuth, Err: &textproto.Error{Code: 454, Msg: "Temporary authentication failure"}}, delivery.ReasonTransientNetwork},
		{&delivery.SMTPError{Step: delivery.StepEnvelope, Err: &textproto.Error{Code: 550, Msg: "sender not approved"}}, delivery.ReasonAuthFailure},
		{&delivery.SMTPError{Step: delivery.StepData, Err: &textproto.Error{Code: 554, Msg: "rejected"}}, delivery.ReasonAuthFailure},
		{errors.New("i/o timeout"), delivery.ReasonTransientNetwork},
		{errors.New("message too large for mailbox"), delivery.ReasonAttachmentTooLarge},
	}
	for _, tc := range cases {
		if got := delivery.Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestDeliverUnbuildableMessageIsNotAuthFailure(t *testing.T) {
	sender := &fakeSender{}
	marker := &fakeMarker{}
	agent, auditLog := newAgent(t, sender, marker)
	path := filepath.Join(t.TempDir(), "Dune.epub")
	testsupport.WriteFile(t, path, 64)

	rec := agent.Deliver(context.Background(), "fp1", path, "not an address")
	if rec.Outcome.OK || rec.Outcome.Reason != delivery.ReasonInvalidMessage {
		t.Fatalf("expected invalid_message, got %+v", rec.Outcome)
	}
	err := rec.Outcome.Err()
	if !errors.Is(err, services.ErrConfiguration) || errors.Is(err, services.ErrUnauthorized) {
		t.Fatalf("unexpected error markers: %v", err)
	}
	if services.ReasonOf(err) != "invalid_message" {
		t.Fatalf("reason = %q", services.ReasonOf(err))
	}
	if sender.count() != 0 || len(marker.marked) != 0 {
		t.Fatalf("nothing should be sent or marked: sent=%d marked=%v", sender.count(), marker.marked)
	}

	entries, err := auditLog.Tail(0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != "invalid_message" {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
}
