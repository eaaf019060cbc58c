package transition

import (
	"errors"
	"fmt"
	"time"

	"Incinerator/internal/asset"
)

// Status is the terminal status of a transition request.
type Status string

const (
	StatusConfirmed Status = "Confirmed"
	StatusSimulated Status = "Simulated"
	StatusCancelled Status = "Cancelled"
	StatusFailed    Status = "Failed"
)

// Result is the single shape every terminal outcome is reported in.
// Reference is only set when Status is Confirmed.
type Result struct {
	AssetID    asset.ID   `json:"assetId"`
	Status     Status     `json:"status"`
	Reference  string     `json:"reference,omitempty"`
	Requested  asset.Kind `json:"requested"`
	Performed  asset.Kind `json:"performed,omitempty"`
	Downgraded bool       `json:"downgraded"`
	Stage      State      `json:"stage,omitempty"`
	Code       string     `json:"code,omitempty"`
	Detail     string     `json:"detail,omitempty"`
	Message    string     `json:"message"`
	At         time.Time  `json:"at"`
}

// Outcome is the raw terminal state handed to Report.
type Outcome struct {
	AssetID   asset.ID
	Requested asset.Kind
	Request   *Request // Request is nil when preparation failed
	State     State    // State is Confirmed, Simulated, Cancelled or Failed
	Stage     State    // Stage is the state the failure happened in
	Reference string
	Err       error
	At        time.Time
}

// Report maps an outcome to its Result.
func Report(o Outcome) Result {
	r := Result{
		AssetID:   o.AssetID,
		Requested: o.Requested,
		At:        o.At,
	}

	if o.Request != nil {
		r.Performed = o.Request.Kind
		r.Downgraded = o.Request.Downgraded
	}

	switch o.State {
	case Confirmed:
		r.Status = StatusConfirmed
		r.Reference = o.Reference
		r.Message = confirmedMessage(o)

	case Simulated:
		r.Status = StatusSimulated
		r.Performed = 0
		r.Message = fmt.Sprintf("Burn authority is not held for this asset's tree; the burn of %s was simulated and nothing was sent to the ledger.", o.AssetID)

	case Cancelled:
		r.Status = StatusCancelled
		r.Performed = 0
		r.Code = asset.Code(asset.ErrUserCancelled)
		r.Message = fmt.Sprintf("Signing was cancelled for %s; nothing was sent to the ledger.", o.AssetID)

	default:
		r.Status = StatusFailed
		r.Stage = o.Stage
		r.Code = asset.Code(o.Err)
		if o.Err != nil {
			r.Detail = o.Err.Error()
		}
		if o.Stage != Submitting && o.Stage != Confirming {
			r.Performed = 0
		}
		r.Message = failedMessage(o, r.Code)
	}

	return r
}

// confirmedMessage describes what happened on the ledger.
func confirmedMessage(o Outcome) string {
	ref := asset.ShortRef(o.Reference)

	switch {
	case o.Request != nil && o.Request.Downgraded:
		return fmt.Sprintf("Burn authority is not held for this asset's tree; %s was transferred to the sink %s instead. Transaction %s.",
			o.AssetID, o.Request.Sink, ref)
	case o.Request != nil && o.Request.Kind == asset.KindTransferToSink:
		return fmt.Sprintf("%s was transferred to the sink %s. Transaction %s.", o.AssetID, o.Request.Sink, ref)
	default:
		return fmt.Sprintf("%s was burned. Transaction %s.", o.AssetID, ref)
	}
}

// failedMessage summarizes a failure for display.
func failedMessage(o Outcome, code string) string {
	switch {
	case errors.Is(o.Err, asset.ErrConfirmationTimeout):
		return fmt.Sprintf("The transition for %s was submitted but not confirmed in time; check the ledger before retrying.", o.AssetID)
	case o.Stage == Confirming:
		return fmt.Sprintf("The transition for %s was submitted but failed on the ledger (%s).", o.AssetID, code)
	default:
		return fmt.Sprintf("The transition for %s failed while %s (%s); nothing was confirmed.", o.AssetID, o.Stage.verb(), code)
	}
}
