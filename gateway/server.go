// Package gateway exposes the signing engine over HTTP to the chat transport.
// Every route resolves the caller's session from the bearer token subject; the
// gateway itself holds no conversation state.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sigforge/config"
	"sigforge/crypto"
	"sigforge/flow"
	"sigforge/gateway/audit"
	"sigforge/gateway/middleware"
	"sigforge/ledger"
	"sigforge/message"
	"sigforge/nonce"
	"sigforge/session"
	"sigforge/signer"
	"sigforge/validate"
)

// Server wires the engine, session store and ledger router behind a chi
// router.
type Server struct {
	engine   *flow.Engine
	sessions *session.Store
	ledger   *ledger.Router
	audit    *audit.Store
	networks config.Config
	log      *slog.Logger
	handler  http.Handler
}

func NewServer(
	engine *flow.Engine,
	sessions *session.Store,
	ledgerRouter *ledger.Router,
	auditStore *audit.Store,
	networks config.Config,
	auth *middleware.Authenticator,
	limiter *middleware.RateLimiter,
	obs *middleware.Observability,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		engine:   engine,
		sessions: sessions,
		ledger:   ledgerRouter,
		audit:    auditStore,
		networks: networks,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(api chi.Router) {
		if auth != nil {
			api.Use(auth.Middleware())
		}
		if limiter != nil {
			api.Use(limiter.Middleware())
		}
		if obs != nil {
			api.Use(obs.Middleware("v1"))
		}
		api.Post("/session/connect", s.handleConnect)
		api.Post("/session/network", s.handleSetNetwork)
		api.Post("/session/disconnect", s.handleDisconnect)
		api.Get("/session", s.handleSessionGet)
		api.Get("/session/balance", s.handleBalance)
		api.Post("/op/start", s.handleOpStart)
		api.Post("/op/input", s.handleOpInput)
		api.Post("/op/confirm", s.handleConfirm)
		api.Post("/op/cancel", s.handleCancel)
	})
	s.handler = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// requestLog returns the server logger carrying the request correlation id.
func (s *Server) requestLog(r *http.Request) *slog.Logger {
	if id, ok := middleware.RequestIDFrom(r.Context()); ok {
		return s.log.With("requestId", id)
	}
	return s.log
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.SessionID(r.Context())
	if !ok {
		http.Error(w, "missing session identity", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

type connectRequest struct {
	PrivateKey string `json:"privateKey"`
	Network    string `json:"network,omitempty"`
	Contract   string `json:"contract,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	key, err := crypto.PrivateKeyFromHex(req.PrivateKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid private key material")
		return
	}
	network := validate.NetworkMainnet
	if strings.TrimSpace(req.Network) != "" {
		network, err = validate.Network(req.Network)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	contract := strings.TrimSpace(req.Contract)
	if contract != "" {
		contract, err = validate.Address(contract)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		contract = s.networks.Networks[network].LedgerContract
	}

	address := key.Address()
	s.sessions.Mutate(id, func(sess *session.Session) {
		sess.Signer = &session.Signer{Address: address, Key: key}
		sess.Network = network
		sess.LedgerContract = contract
		sess.Active = nil
	})
	s.requestLog(r).Info("signer connected", "session", id, "address", address.Hex(), "network", network)
	writeJSON(w, http.StatusOK, map[string]string{
		"address":  address.Hex(),
		"network":  network,
		"contract": contract,
	})
}

func (s *Server) handleSetNetwork(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Network string `json:"network"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	network, err := validate.Network(req.Network)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.sessions.Mutate(id, func(sess *session.Session) {
		sess.Network = network
		if contract := s.networks.Networks[network].LedgerContract; contract != "" {
			sess.LedgerContract = contract
		}
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"network":  snap.Network,
		"contract": snap.LedgerContract,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	s.sessions.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	snap, found := s.sessions.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "no session")
		return
	}
	resp := map[string]interface{}{
		"network":  snap.Network,
		"contract": snap.LedgerContract,
	}
	if snap.Signer != nil {
		resp["address"] = snap.Signer.Address.Hex()
	}
	if snap.Active != nil {
		resp["activeOperation"] = snap.Active.OperationKind()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	snap, found := s.sessions.Get(id)
	if !found || snap.Signer == nil {
		writeError(w, http.StatusConflict, "no signer connected")
		return
	}
	token, err := validate.Address(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balance, err := s.ledger.Balance(r.Context(), snap.Network, snap.Signer.Address.Hex(), token)
	if err != nil {
		writeError(w, http.StatusBadGateway, "balance query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token,
		"balance": balance.Hex(),
	})
}

func (s *Server) handleOpStart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	prompt, err := s.engine.StartOperation(id, flow.Kind(strings.TrimSpace(req.Kind)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (s *Server) handleOpInput(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	prompt, err := s.engine.SubmitStepInput(id, req.Input)
	if errors.Is(err, flow.ErrNoActiveOperation) {
		writeJSON(w, http.StatusConflict, prompt)
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

type signedMessage struct {
	Message   message.Signable `json:"message"`
	Signature string           `json:"signature"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	result, err := s.engine.ConfirmAndSign(r.Context(), id, nil)
	if err != nil {
		status := confirmStatus(err)
		writeError(w, status, err.Error())
		return
	}

	signed := make([]signedMessage, 0, len(result.Messages))
	for i, msg := range result.Messages {
		sigHex := "0x" + hex.EncodeToString(result.Signatures[i])
		signed = append(signed, signedMessage{Message: msg, Signature: sigHex})
		if s.audit != nil {
			payload, err := json.Marshal(msg)
			if err == nil {
				if _, err := s.audit.Append(audit.Record{
					SessionID: id,
					Kind:      string(result.Kind),
					Signer:    result.Signer.Hex(),
					Message:   payload,
					Signature: sigHex,
				}); err != nil {
					s.requestLog(r).Warn("audit append failed", "session", id, "err", err)
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":   result.Kind,
		"signer": result.Signer.Hex(),
		"signed": signed,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	s.engine.CancelOperation(id)
	w.WriteHeader(http.StatusNoContent)
}

// confirmStatus maps the engine's error taxonomy onto HTTP statuses: state
// problems are conflicts, external-dependency failures are bad gateways and
// builder contract violations are internal.
func confirmStatus(err error) int {
	switch {
	case errors.Is(err, flow.ErrNoActiveOperation),
		errors.Is(err, flow.ErrNotReady),
		errors.Is(err, flow.ErrNoSigner),
		errors.Is(err, flow.ErrNoContract):
		return http.StatusConflict
	case errors.Is(err, nonce.ErrQueryFailed),
		errors.Is(err, nonce.ErrGenerationFailed),
		errors.Is(err, signer.ErrSigningFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
