package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"Incinerator/internal/asset"
	"Incinerator/internal/ledger"
	"Incinerator/internal/logger"
	"Incinerator/internal/wire"
)

const (
	// tracerName identifies the executor's spans.
	tracerName = "Incinerator/internal/transition"
)

// State is a step of the executor state machine.
type State uint8

const (
	Idle State = iota
	Preparing
	AwaitingSignature
	Submitting
	Confirming
	Confirmed
	Failed
	Cancelled
	Simulated
)

var stateNames = [...]string{
	Idle:              "Idle",
	Preparing:         "Preparing",
	AwaitingSignature: "AwaitingSignature",
	Submitting:        "Submitting",
	Confirming:        "Confirming",
	Confirmed:         "Confirmed",
	Failed:            "Failed",
	Cancelled:         "Cancelled",
	Simulated:         "Simulated",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("State(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}

	return fmt.Errorf("unknown state %q", b)
}

// verb describes the state for failure messages.
func (s State) verb() string {
	switch s {
	case Preparing:
		return "preparing"
	case AwaitingSignature:
		return "awaiting the signature"
	case Submitting:
		return "submitting"
	case Confirming:
		return "confirming"
	default:
		return s.String()
	}
}

// ProofSource provides cached proofs. proofcache.Cache implements it.
type ProofSource interface {
	GetProof(ctx context.Context, id asset.ID) (*asset.MerkleProof, error)
	Invalidate(id asset.ID)
}

// Ledger submits and tracks transitions. ledger.Client implements it.
type Ledger interface {
	LatestAnchor(ctx context.Context) (asset.Hash, error)
	SendTransition(ctx context.Context, signed *wire.Signed) (string, error)
	TransitionStatus(ctx context.Context, ref string) (ledger.Status, error)
	Balance(ctx context.Context, addr asset.Address) (uint64, error)
}

// Signer obtains the owner's signature. It returns asset.ErrUserCancelled
// when the owner declines.
type Signer interface {
	Sign(ctx context.Context, u *wire.Unsigned) (*wire.Signed, error)
}

// AuthorityChecker reports whether the pipeline holds a tree's authority.
type AuthorityChecker interface {
	Holds(tree asset.Address) bool
}

// Observer is called on every state change.
type Observer func(id asset.ID, from, to State)

// Config holds the executor's timeouts and policies.
type Config struct {
	FetchTimeout   time.Duration // FetchTimeout bounds preparation (proof, root, anchor, balance)
	SubmitTimeout  time.Duration // SubmitTimeout bounds the submission call
	ConfirmTimeout time.Duration // ConfirmTimeout bounds confirmation polling
	PollInterval   time.Duration // PollInterval is the delay between status polls
	Simulate       bool          // Simulate turns downgraded burns into simulations
	MinBalance     uint64        // MinBalance is the required fee balance (0 disables the check)
}

// DefaultConfig returns the standard executor configuration.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:   15 * time.Second,
		SubmitTimeout:  30 * time.Second,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   500 * time.Millisecond,
		Simulate:       true,
	}
}

// Executor drives one transition request through prepare, sign, submit
// and confirm. It holds no per-request state and is safe for concurrent use.
type Executor struct {
	cfg        Config
	proofs     ProofSource
	builder    *Builder
	strategies map[asset.Kind]Strategy
	signer     Signer
	ledger     Ledger
	auths      AuthorityChecker
	observer   Observer
	tracer     trace.Tracer
	log        *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStrategy replaces the strategy for kind.
func WithStrategy(kind asset.Kind, s Strategy) ExecutorOption {
	return func(e *Executor) { e.strategies[kind] = s }
}

// WithObserver installs a state change hook.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor wires the executor. strategies defaults to DefaultStrategies
// when nil, using auths as the key source if it provides keys.
func NewExecutor(cfg Config, proofs ProofSource, builder *Builder, signer Signer, l Ledger, auths AuthorityChecker, opts ...ExecutorOption) *Executor {
	e := &Executor{
		cfg:        cfg,
		proofs:     proofs,
		builder:    builder,
		strategies: make(map[asset.Kind]Strategy),
		signer:     signer,
		ledger:     l,
		auths:      auths,
		tracer:     otel.Tracer(tracerName),
		log:        logger.With("component", "executor"),
	}

	if keys, ok := auths.(KeySource); ok {
		for k, s := range DefaultStrategies(keys) {
			e.strategies[k] = s
		}
	} else {
		e.strategies[asset.KindTransferToSink] = SinkTransfer{}
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// callOptions are per-request overrides.
type callOptions struct {
	simulate bool
	signer   Signer
}

// CallOption overrides executor behavior for one request.
type CallOption func(*callOptions)

// WithoutSimulation submits a downgraded burn as a real sink transfer.
func WithoutSimulation() CallOption {
	return func(o *callOptions) { o.simulate = false }
}

// WithSimulation sets the simulation policy for one request.
func WithSimulation(simulate bool) CallOption {
	return func(o *callOptions) { o.simulate = simulate }
}

// WithSigner uses s instead of the executor's signer.
func WithSigner(s Signer) CallOption {
	return func(o *callOptions) { o.signer = s }
}

// execution tracks one request through the state machine.
type execution struct {
	e     *Executor
	id    asset.ID
	state State
	span  trace.Span
}

// Execute runs a transition request for id to a terminal state.
// ctx is honored only while waiting for the signature; preparation,
// submission and confirmation run under their own timeouts.
func (e *Executor) Execute(ctx context.Context, id asset.ID, owner asset.Address, kind asset.Kind, opts ...CallOption) Result {
	co := callOptions{simulate: e.cfg.Simulate, signer: e.signer}
	for _, opt := range opts {
		opt(&co)
	}

	ctx, span := e.tracer.Start(ctx, "transition.execute", trace.WithAttributes(
		attribute.String("asset", id.String()),
		attribute.String("kind", kind.String()),
	))
	defer span.End()

	x := &execution{e: e, id: id, state: Idle, span: span}
	start := time.Now()

	out := x.run(ctx, owner, kind, co)
	out.AssetID = id
	out.Requested = kind
	out.At = time.Now()

	res := Report(out)

	span.SetAttributes(attribute.String("status", string(res.Status)))
	if res.Status == StatusFailed {
		span.SetStatus(codes.Error, res.Code)
	}

	e.log.Info("transition finished",
		"asset", id,
		"requested", kind,
		"status", res.Status,
		"code", res.Code,
		"downgraded", res.Downgraded,
		logger.Timed(start),
	)

	return res
}

// run walks the states and returns the terminal outcome.
func (x *execution) run(ctx context.Context, owner asset.Address, kind asset.Kind, co callOptions) Outcome {
	e := x.e

	x.transition(Preparing)

	prepCtx, cancelPrep := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FetchTimeout)
	defer cancelPrep()

	req, err := x.prepare(prepCtx, owner, kind)
	if err != nil {
		return x.fail(Preparing, req, err)
	}

	if req.Downgraded && co.simulate {
		x.transition(Simulated)
		return Outcome{State: Simulated, Request: req}
	}

	if err := x.checkBalance(prepCtx, owner); err != nil {
		return x.fail(Preparing, req, err)
	}

	unsigned, err := x.encode(prepCtx, req)
	if err != nil {
		return x.fail(Preparing, req, err)
	}
	cancelPrep()

	x.transition(AwaitingSignature)

	if co.signer == nil {
		return x.fail(AwaitingSignature, req, errors.New("no signer configured"))
	}

	signed, err := x.sign(ctx, co.signer, unsigned)
	if err != nil {
		if errors.Is(err, asset.ErrUserCancelled) || ctx.Err() != nil {
			x.transition(Cancelled)
			return Outcome{State: Cancelled, Request: req}
		}

		return x.fail(AwaitingSignature, req, err)
	}

	// A signature that arrives after the caller gave up is discarded
	if ctx.Err() != nil {
		x.transition(Cancelled)
		return Outcome{State: Cancelled, Request: req}
	}

	if signed.Hash != unsigned.Hash {
		return x.fail(AwaitingSignature, req, fmt.Errorf("%w: signed a different message", asset.ErrInvalidSignature))
	}

	if err := signed.Verify(owner); err != nil {
		return x.fail(AwaitingSignature, req, err)
	}

	x.transition(Submitting)

	// From here on the tree root may have moved, so a failure drops the
	// cached proof and any retry starts from a fresh one.
	ref, err := x.submit(ctx, signed)
	if err != nil {
		e.proofs.Invalidate(x.id)
		return x.fail(Submitting, req, err)
	}

	x.transition(Confirming)

	if err := x.confirm(ctx, ref); err != nil {
		e.proofs.Invalidate(x.id)
		return x.fail(Confirming, req, fmt.Errorf("transaction %s:\n%w", ref, err))
	}

	e.proofs.Invalidate(x.id)
	x.transition(Confirmed)

	return Outcome{State: Confirmed, Request: req, Reference: ref}
}

// prepare fetches the proof and builds the request, retrying once with a
// fresh proof when the cached one is stale.
func (x *execution) prepare(ctx context.Context, owner asset.Address, kind asset.Kind) (*Request, error) {
	ctx, span := x.e.tracer.Start(ctx, "transition.prepare")
	defer span.End()

	req, err := x.build(ctx, owner, kind)
	if asset.IsStaleProof(err) {
		x.e.log.Info("stale proof, refetching", "asset", x.id)
		span.AddEvent("stale proof retry")

		x.e.proofs.Invalidate(x.id)
		req, err = x.build(ctx, owner, kind)
	}

	if err != nil {
		recordError(span, err)
		return req, err
	}

	return req, nil
}

// checkBalance verifies the owner can pay the fee. Simulations skip it.
func (x *execution) checkBalance(ctx context.Context, owner asset.Address) error {
	required := x.e.cfg.MinBalance
	if required == 0 {
		return nil
	}

	bal, err := x.e.ledger.Balance(ctx, owner)
	if err != nil {
		return fmt.Errorf("balance pre-flight:\n%w", err)
	}

	if bal < required {
		return fmt.Errorf("%w: balance %d below required %d", asset.ErrInsufficientFunds, bal, required)
	}

	return nil
}

// build fetches the proof through the cache and runs the Builder.
func (x *execution) build(ctx context.Context, owner asset.Address, kind asset.Kind) (*Request, error) {
	proof, err := x.e.proofs.GetProof(ctx, x.id)
	if err != nil {
		return nil, err
	}

	held := x.e.auths != nil && x.e.auths.Holds(proof.Tree)

	return x.e.builder.Build(ctx, x.id, proof, owner, kind, held)
}

// encode fetches the anchor and runs the strategy for the request kind.
func (x *execution) encode(ctx context.Context, req *Request) (*wire.Unsigned, error) {
	strategy, ok := x.e.strategies[req.Kind]
	if !ok {
		return nil, fmt.Errorf("no strategy for %s", req.Kind)
	}

	anchor, err := x.e.ledger.LatestAnchor(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest anchor:\n%w", err)
	}

	return strategy.Encode(req, anchor)
}

// sign waits for the signer without a timeout.
func (x *execution) sign(ctx context.Context, s Signer, u *wire.Unsigned) (*wire.Signed, error) {
	ctx, span := x.e.tracer.Start(ctx, "transition.sign")
	defer span.End()

	signed, err := s.Sign(ctx, u)
	if err != nil && !errors.Is(err, asset.ErrUserCancelled) {
		recordError(span, err)
	}

	return signed, err
}

// submit sends the signed transition, detached from caller cancellation.
func (x *execution) submit(ctx context.Context, signed *wire.Signed) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.e.cfg.SubmitTimeout)
	defer cancel()

	ctx, span := x.e.tracer.Start(ctx, "transition.submit")
	defer span.End()

	ref, err := x.e.ledger.SendTransition(ctx, signed)
	if err != nil {
		recordError(span, err)
		return "", err
	}

	span.SetAttributes(attribute.String("reference", ref))

	return ref, nil
}

// confirm polls the ledger until ref is final or the confirm timeout passes.
// Poll errors are retried until the deadline.
func (x *execution) confirm(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.e.cfg.ConfirmTimeout)
	defer cancel()

	ctx, span := x.e.tracer.Start(ctx, "transition.confirm")
	defer span.End()

	ticker := time.NewTicker(x.e.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0

	for {
		st, err := x.e.ledger.TransitionStatus(ctx, ref)
		polls++

		switch {
		case err != nil:
			x.e.log.Debug("status poll failed", "reference", asset.ShortRef(ref), "error", err)
		case st.Err != "":
			err := fmt.Errorf("%w: %s", asset.ErrSubmissionRejected, st.Err)
			recordError(span, err)
			return err
		case st.Confirmed:
			span.SetAttributes(attribute.Int("polls", polls))
			return nil
		}

		select {
		case <-ctx.Done():
			err := fmt.Errorf("%w after %d polls", asset.ErrConfirmationTimeout, polls)
			recordError(span, err)
			return err
		case <-ticker.C:
		}
	}
}

// fail logs the failure and returns the Failed outcome.
func (x *execution) fail(stage State, req *Request, err error) Outcome {
	x.e.log.Warn("transition failed", "asset", x.id, "stage", stage, "code", asset.Code(err), "error", err)
	x.transition(Failed)

	return Outcome{State: Failed, Stage: stage, Request: req, Err: err}
}

// transition moves to the next state and notifies the observer.
func (x *execution) transition(to State) {
	from := x.state
	x.state = to

	x.span.AddEvent("state", trace.WithAttributes(attribute.String("to", to.String())))
	x.e.log.Debug("state change", "asset", x.id, "from", from, "to", to)

	if x.e.observer != nil {
		x.e.observer(x.id, from, to)
	}
}

// recordError marks span as failed with err.
func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, asset.Code(err))
}
