package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Incinerator/client"
	"Incinerator/internal/asset"
	"Incinerator/internal/transition"
)

const (
	// resultWait bounds how long a test waits for a transition result.
	resultWait = 10 * time.Second
)

// outcome is a background transition call's answer.
type outcome struct {
	res *transition.Result
	err error
}

// requestAsync runs a transition request in the background, since the
// node answers only once the wallet has signed.
func requestAsync(cli *client.Client, id asset.ID, owner asset.Address, kind asset.Kind, simulate *bool) <-chan outcome {
	done := make(chan outcome, 1)

	go func() {
		res, err := cli.RequestTransition(id, owner, kind, simulate)
		done <- outcome{res: res, err: err}
	}()

	return done
}

// approveWhenPending waits for the wallet's signing request and approves it.
func approveWhenPending(t *testing.T, cli *client.Client, w *client.Wallet) {
	t.Helper()

	require.Eventually(t, func() bool {
		n, err := w.ApprovePending(cli)
		return err == nil && n == 1
	}, resultWait, 10*time.Millisecond, "signing request never appeared")
}

// await returns the background result or fails the test.
func await(t *testing.T, done <-chan outcome) *transition.Result {
	t.Helper()

	select {
	case o := <-done:
		require.NoError(t, o.err)
		return o.res
	case <-time.After(resultWait):
		t.Fatal("transition did not finish")
		return nil
	}
}

// TestTransferToSink sends an asset to the sink after the wallet approves.
func TestTransferToSink(t *testing.T) {
	env := NewEnv(t)
	w := client.NewWallet()
	id := env.World.Mint(w.Address(), "Relic #1")

	assets, err := env.Client.Assets(w.Address())
	require.NoError(t, err)
	require.Len(t, assets, 1)

	done := requestAsync(env.Client, id, w.Address(), asset.KindTransferToSink, nil)
	approveWhenPending(t, env.Client, w)
	res := await(t, done)

	assert.Equal(t, transition.StatusConfirmed, res.Status, res.Message)
	assert.Equal(t, asset.KindTransferToSink, res.Performed)
	assert.NotEmpty(t, res.Reference)

	meta, _ := env.World.Metadata(id)
	assert.Equal(t, asset.SinkAddress, meta.Owner)

	assets, err = env.Client.Assets(w.Address())
	require.NoError(t, err)
	assert.Empty(t, assets)

	history, err := env.Client.History(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.Reference, history[0].Reference)
}

// TestBurnWithAuthority burns with the tree authority cosigning.
func TestBurnWithAuthority(t *testing.T) {
	env := NewEnv(t, WithAuthority())
	w := client.NewWallet()
	id := env.World.Mint(w.Address(), "Relic #2")

	done := requestAsync(env.Client, id, w.Address(), asset.KindBurn, nil)
	approveWhenPending(t, env.Client, w)
	res := await(t, done)

	require.Equal(t, transition.StatusConfirmed, res.Status, res.Message)
	assert.Equal(t, asset.KindBurn, res.Performed)
	assert.False(t, res.Downgraded)

	submitted := env.World.Submitted()
	require.Len(t, submitted, 1)
	assert.Len(t, submitted[0].Signatures, 2, "owner and tree authority")

	meta, _ := env.World.Metadata(id)
	assert.True(t, meta.Burnt)
}

// TestBurnWithoutAuthority_Simulated never reaches the wallet or the ledger.
func TestBurnWithoutAuthority_Simulated(t *testing.T) {
	env := NewEnv(t)
	w := client.NewWallet()
	id := env.World.Mint(w.Address(), "Relic #3")

	res, err := env.Client.Burn(id, w.Address())
	require.NoError(t, err)

	assert.Equal(t, transition.StatusSimulated, res.Status)
	assert.True(t, res.Downgraded)
	assert.Empty(t, env.World.Submitted())

	pending, err := env.Client.PendingSignatures()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestBurnWithoutAuthority_Downgraded sends the asset to the sink when
// simulation is turned off for the request.
func TestBurnWithoutAuthority_Downgraded(t *testing.T) {
	env := NewEnv(t)
	w := client.NewWallet()
	id := env.World.Mint(w.Address(), "Relic #4")

	simulate := false
	done := requestAsync(env.Client, id, w.Address(), asset.KindBurn, &simulate)
	approveWhenPending(t, env.Client, w)
	res := await(t, done)

	require.Equal(t, transition.StatusConfirmed, res.Status, res.Message)
	assert.Equal(t, asset.KindBurn, res.Requested)
	assert.Equal(t, asset.KindTransferToSink, res.Performed)
	assert.True(t, res.Downgraded)
}

// TestStrictAuthority fails the burn before anything is signed.
func TestStrictAuthority(t *testing.T) {
	env := NewEnv(t, WithStrictAuthority())
	w := client.NewWallet()
	id := env.World.Mint(w.Address(), "Relic #5")

	res, err := env.Client.Burn(id, w.Address())
	require.NoError(t, err)

	assert.Equal(t, transition.StatusFailed, res.Status)
	assert.Equal(t, "Unauthorized", res.Code)
	assert.Empty(t, env.World.Submitted())
}

// TestWalletRejects reports a cancellation and leaves the asset alone.
func TestWalletRejects(t *testing.T) {
	env := NewEnv(t)
	w := client.NewWallet()
	id := env.World.Mint(w.Address(), "Relic #6")

	done := requestAsync(env.Client, id, w.Address(), asset.KindTransferToSink, nil)

	var requestID string
	require.Eventually(t, func() bool {
		pending, err := env.Client.PendingSignatures()
		if err != nil || len(pending) != 1 {
			return false
		}
		requestID = pending[0].ID
		return true
	}, resultWait, 10*time.Millisecond)

	require.NoError(t, w.Reject(env.Client, requestID))
	res := await(t, done)

	assert.Equal(t, transition.StatusCancelled, res.Status)
	assert.Empty(t, env.World.Submitted())

	meta, _ := env.World.Metadata(id)
	assert.Equal(t, w.Address(), meta.Owner)
}

// TestStaleProofRefetched burns with a cached proof whose root has moved.
func TestStaleProofRefetched(t *testing.T) {
	env := NewEnv(t, WithAuthority())
	w := client.NewWallet()
	id := env.World.Mint(w.Address(), "Relic #7")

	_, err := env.Client.GetProof(id)
	require.NoError(t, err)
	require.Equal(t, 1, env.World.ProofHits(id))

	// Minting another leaf moves the root under the cached proof
	env.World.Mint(client.NewWallet().Address(), "Relic #8")

	done := requestAsync(env.Client, id, w.Address(), asset.KindBurn, nil)
	approveWhenPending(t, env.Client, w)
	res := await(t, done)

	require.Equal(t, transition.StatusConfirmed, res.Status, res.Message)
	assert.Equal(t, 2, env.World.ProofHits(id))
}

// TestPrefetchWarmsCache fetches visible proofs ahead of any request.
func TestPrefetchWarmsCache(t *testing.T) {
	env := NewEnv(t)
	w := client.NewWallet()
	first := env.World.Mint(w.Address(), "Relic #9")
	second := env.World.Mint(w.Address(), "Relic #10")

	require.NoError(t, env.Client.Prefetch([]asset.ID{first, second}))

	require.Eventually(t, func() bool {
		return env.World.ProofHits(first) == 1 && env.World.ProofHits(second) == 1
	}, resultWait, 10*time.Millisecond)

	info, err := env.Client.GetProof(first)
	require.NoError(t, err)
	require.NoError(t, info.Proof().Validate())

	assert.Equal(t, 1, env.World.ProofHits(first), "served from cache")

	require.NoError(t, env.Client.InvalidateProof(first))

	_, err = env.Client.GetProof(first)
	require.NoError(t, err)
	assert.Equal(t, 2, env.World.ProofHits(first))
}
