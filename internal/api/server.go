package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"Incinerator/internal/asset"
	"Incinerator/internal/logger"
	"Incinerator/internal/proofcache"
	"Incinerator/internal/signer"
	"Incinerator/internal/transition"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 64 << 10

	// defaultHistoryLimit is the number of results GET /history returns by default.
	defaultHistoryLimit = 50
)

// Pipeline is the subset of pipeline.Pipeline the API serves.
type Pipeline interface {
	RequestTransition(ctx context.Context, id asset.ID, owner asset.Address, kind asset.Kind, opts ...transition.CallOption) transition.Result
	Prefetch(ids []asset.ID)
	Invalidate(id asset.ID)
	Proof(ctx context.Context, id asset.ID) (*asset.MerkleProof, error)
	CachedProof(id asset.ID) (proofcache.Entry, bool)
	History(n int) []transition.Result
	Assets(ctx context.Context, owner asset.Address) ([]asset.Metadata, error)
}

// SigningRelay exposes pending wallet signatures. signer.Relay implements it.
type SigningRelay interface {
	Pending() []signer.Request
	Resolve(id string, from asset.Address, sig []byte) error
	Reject(id string) error
	Subscribe() (<-chan signer.Request, func())
}

// Server is the HTTP API server.
type Server struct {
	addr     string       // addr is the HTTP listen address
	pipeline Pipeline     // pipeline runs transitions and serves proofs
	relay    SigningRelay // relay is nil when signing happens locally
	server   *http.Server // server is the underlying HTTP server

	ctx    context.Context // ctx ends open signing streams on Stop
	cancel context.CancelFunc
}

// New creates a new HTTP API server. relay may be nil.
func New(addr string, pipeline Pipeline, relay SigningRelay) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:     addr,
		pipeline: pipeline,
		relay:    relay,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /assets", s.handleAssets)
	mux.HandleFunc("POST /transitions", s.handleTransition)
	mux.HandleFunc("POST /prefetch", s.handlePrefetch)
	mux.HandleFunc("GET /proofs/{id}", s.handleGetProof)
	mux.HandleFunc("DELETE /proofs/{id}", s.handleInvalidate)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("GET /signing", s.handlePendingSignatures)
	mux.HandleFunc("POST /signing/{id}", s.handleResolveSignature)
	mux.HandleFunc("DELETE /signing/{id}", s.handleRejectSignature)
	mux.HandleFunc("GET /ws/signing", s.handleSigningStream)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: POST /transitions blocks until the wallet answers
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop closes signing streams and gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleAssets handles GET /assets?wallet=<address>.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet address is required")
		return
	}

	owner, err := asset.ParseAddress(wallet)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	assets, err := s.pipeline.Assets(r.Context(), owner)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"assets":  assets,
	})
}

// handleTransition handles POST /transitions. It blocks until the
// transition reaches a terminal state and responds with the result.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	req, err := decodeTransitionRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var opts []transition.CallOption
	if req.simulate != nil {
		opts = append(opts, transition.WithSimulation(*req.simulate))
	}

	res := s.pipeline.RequestTransition(r.Context(), req.id, req.owner, req.kind, opts...)

	writeJSON(w, statusForResult(res), res)
}

// handlePrefetch handles POST /prefetch.
func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	ids, err := decodePrefetchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.pipeline.Prefetch(ids)

	writeJSON(w, http.StatusAccepted, map[string]int{
		"visible": len(ids),
	})
}

// handleGetProof handles GET /proofs/{id}.
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	id, err := asset.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	proof, err := s.pipeline.Proof(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := proofResponse{
		AssetID:   id,
		Tree:      proof.Tree,
		Root:      proof.Root,
		Leaf:      proof.Leaf,
		LeafIndex: proof.LeafIndex,
		Siblings:  proof.Siblings,
	}

	if e, ok := s.pipeline.CachedProof(id); ok {
		resp.FetchedAt = e.FetchedAt
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleInvalidate handles DELETE /proofs/{id}.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id, err := asset.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	s.pipeline.Invalidate(id)

	w.WriteHeader(http.StatusNoContent)
}

// handleHistory handles GET /history?limit=n.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": s.pipeline.History(limit),
	})
}

// statusForResult maps a result to an HTTP status.
// Terminal outcomes the caller can act on are 200; failures map by code.
func statusForResult(res transition.Result) int {
	if res.Status != transition.StatusFailed {
		return http.StatusOK
	}

	return statusForCode(res.Code)
}

// statusForCode maps a taxonomy code to an HTTP status.
func statusForCode(code string) int {
	switch code {
	case "NotFound":
		return http.StatusNotFound
	case "InvalidProof", "StaleProof":
		return http.StatusConflict
	case "Unauthorized", "InvalidSignature":
		return http.StatusForbidden
	case "InsufficientFunds":
		return http.StatusPaymentRequired
	case "Unavailable", "Timeout":
		return http.StatusServiceUnavailable
	case "SubmissionRejected", "ConfirmationTimeout":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// writeFailure writes a pipeline error with its taxonomy code.
func writeFailure(w http.ResponseWriter, err error) {
	code := asset.Code(err)

	writeJSON(w, statusForCode(code), map[string]any{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}
