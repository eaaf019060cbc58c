package transition

import (
	"fmt"
	"strings"
	"testing"

	"Incinerator/internal/asset"
)

// TestReport_ConfirmedShortReference verifies the message carries the short reference.
func TestReport_ConfirmedShortReference(t *testing.T) {
	ref := "abcdefghijklmnopqrstuvwxyz"
	req := &Request{Kind: asset.KindBurn, Requested: asset.KindBurn}

	r := Report(Outcome{AssetID: asset.ID{1}, Requested: asset.KindBurn, Request: req, State: Confirmed, Reference: ref})

	if r.Status != StatusConfirmed || r.Reference != ref {
		t.Errorf("unexpected result: %+v", r)
	}

	if !strings.Contains(r.Message, "abcdef...uvwxyz") || !strings.Contains(r.Message, "burned") {
		t.Errorf("unexpected message: %q", r.Message)
	}
}

// TestReport_FailedNoReference verifies failures carry stage, code and detail but no reference.
func TestReport_FailedNoReference(t *testing.T) {
	err := fmt.Errorf("send:\n%w", asset.ErrSubmissionRejected)

	r := Report(Outcome{State: Failed, Stage: Submitting, Err: err, Reference: "ignored"})

	if r.Status != StatusFailed || r.Reference != "" {
		t.Errorf("unexpected result: %+v", r)
	}

	if r.Stage != Submitting || r.Code != "SubmissionRejected" || r.Detail != err.Error() {
		t.Errorf("failure fields wrong: %+v", r)
	}
}

// TestReport_ConfirmationTimeoutMessage verifies the operator is told to check the ledger.
func TestReport_ConfirmationTimeoutMessage(t *testing.T) {
	r := Report(Outcome{State: Failed, Stage: Confirming, Err: fmt.Errorf("%w after 3 polls", asset.ErrConfirmationTimeout)})

	if r.Code != "ConfirmationTimeout" || !strings.Contains(r.Message, "check the ledger") {
		t.Errorf("unexpected result: %+v", r)
	}
}

// TestReport_Cancelled verifies cancellation is not a failure.
func TestReport_Cancelled(t *testing.T) {
	r := Report(Outcome{State: Cancelled, Request: &Request{Kind: asset.KindTransferToSink}})

	if r.Status != StatusCancelled || r.Code != "UserCancelled" || r.Performed != 0 || r.Stage != Idle {
		t.Errorf("unexpected result: %+v", r)
	}
}

// TestHistory_Ring verifies the history keeps the newest results, newest first.
func TestHistory_Ring(t *testing.T) {
	h := NewHistory(3)

	for i := 1; i <= 5; i++ {
		h.Add(Result{AssetID: asset.ID{byte(i)}})
	}

	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}

	for i, want := range []byte{5, 4, 3} {
		if got[i].AssetID != (asset.ID{want}) {
			t.Errorf("position %d: got %s", i, got[i].AssetID)
		}
	}

	if len(h.Recent(2)) != 2 {
		t.Error("Recent(2) should return 2 results")
	}
}

// TestHistory_Empty verifies an empty history returns nothing.
func TestHistory_Empty(t *testing.T) {
	if got := NewHistory(0).Recent(10); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}
