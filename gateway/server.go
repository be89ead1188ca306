package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"ownersale/catalog"
	"ownersale/gateway/middleware"
	"ownersale/native/sale"
	"ownersale/registry"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 64 * 1024
	handlerTimeout       = 30 * time.Second
)

// ServerConfig collects the HTTP-facing knobs.
type ServerConfig struct {
	Auth       middleware.AuthConfig
	RateLimits map[string]middleware.RateLimit
	CORS       middleware.CORSConfig
	Namespace  string
}

// Server exposes the sale registry over HTTP.
type Server struct {
	registry *registry.Registry
	catalog  *catalog.Catalog
	store    *SQLiteStore
	hub      *Hub
	logger   *slog.Logger

	auth          *middleware.Authenticator
	limiter       *middleware.RateLimiter
	observability *middleware.Observability
	cors          func(http.Handler) http.Handler

	nowFn func() time.Time
}

func NewServer(cfg ServerConfig, reg *registry.Registry, cat *catalog.Catalog, store *SQLiteStore, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cat == nil {
		cat = catalog.Builtin()
	}
	return &Server{
		registry: reg,
		catalog:  cat,
		store:    store,
		hub:      hub,
		logger:   logger,
		auth:     middleware.NewAuthenticator(cfg.Auth, logger),
		limiter:  middleware.NewRateLimiter(cfg.RateLimits),
		observability: middleware.NewObservability(middleware.ObservabilityConfig{
			MetricsPrefix: cfg.Namespace,
			Enabled:       true,
		}),
		cors:  middleware.CORS(cfg.CORS),
		nowFn: time.Now,
	}
}

// Router assembles the chi mux with the middleware stack applied per route
// group.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.cors)

	r.Method(http.MethodGet, "/healthz", s.observability.Middleware("healthz")(http.HandlerFunc(s.handleHealth)))
	r.Method(http.MethodGet, "/metrics", s.observability.MetricsHandler())
	r.Method(http.MethodGet, "/ws/events", s.hub)

	read := func(h http.HandlerFunc) http.Handler {
		return s.observability.Middleware("read")(s.limiter.Middleware("read")(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return s.observability.Middleware("mutate")(s.limiter.Middleware("mutate")(s.auth.Middleware(middleware.ScopeSaleAdmin)(h)))
	}
	bid := func(h http.HandlerFunc) http.Handler {
		return s.observability.Middleware("mutate")(s.limiter.Middleware("mutate")(s.auth.Middleware(middleware.ScopeSaleBid)(h)))
	}
	finalize := func(h http.HandlerFunc) http.Handler {
		// Either scope may finalize; the sale layer decides per path who is
		// actually allowed to.
		return s.observability.Middleware("mutate")(s.limiter.Middleware("mutate")(s.auth.Middleware()(h)))
	}

	r.Method(http.MethodGet, "/sales", read(s.handleListSales))
	r.Method(http.MethodGet, "/sales/{saleID}", read(s.handleGetSale))
	r.Method(http.MethodGet, "/sales/{saleID}/offers/{bidder}", read(s.handleGetOffer))

	r.Method(http.MethodPost, "/sales", admin(s.handleCreateSale))
	r.Method(http.MethodPost, "/sales/{saleID}/start", admin(s.handleStartSale))
	r.Method(http.MethodPost, "/sales/{saleID}/cancel", admin(s.handleCancelSale))
	r.Method(http.MethodPost, "/sales/{saleID}/offers", bid(s.handleMakeOffer))
	r.Method(http.MethodPost, "/sales/{saleID}/finalize", finalize(s.handleFinalizeSale))

	return r
}

// --- request / response shapes ---

type templateRequest struct {
	Target           string            `json:"target"`
	TransferSelector string            `json:"transferSelector"`
	Params           []string          `json:"params"`
	NewOwnerIndex    int               `json:"newOwnerIndex"`
	QuerySelector    string            `json:"querySelector"`
	Catalog          string            `json:"catalog"`
	FixedParams      map[string]string `json:"fixedParams"`
}

type createSaleRequest struct {
	Administrator string          `json:"administrator"`
	Template      templateRequest `json:"template"`
}

type priceRequest struct {
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type finalizeSaleRequest struct {
	Mode   string `json:"mode"`
	Buyer  string `json:"buyer,omitempty"`
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type priceView struct {
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type offerView struct {
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type saleView struct {
	SaleID        string      `json:"saleId"`
	Status        string      `json:"status"`
	Resource      string      `json:"resource"`
	Administrator string      `json:"administrator"`
	PreviousAdmin string      `json:"previousAdmin"`
	BuyItNow      *priceView  `json:"buyItNow,omitempty"`
	Offers        []offerView `json:"offers,omitempty"`
}

func viewOf(snap sale.Snapshot) saleView {
	view := saleView{
		SaleID:        snap.SaleID,
		Status:        snap.Status.String(),
		Resource:      snap.Template.Target.Hex(),
		Administrator: snap.Administrator.Hex(),
		PreviousAdmin: snap.PreviousAdmin.Hex(),
	}
	if snap.BuyItNow != nil {
		view.BuyItNow = &priceView{Amount: snap.BuyItNow.Amount.String(), Asset: snap.BuyItNow.Asset}
	}
	for _, offer := range snap.Offers {
		view.Offers = append(view.Offers, offerView{Bidder: offer.Bidder.Hex(), Amount: offer.Amount.String(), Asset: offer.Asset})
	}
	return view
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSales(w http.ResponseWriter, r *http.Request) {
	snaps := s.registry.List()
	views := make([]saleView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, viewOf(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": views})
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Get(chi.URLParam(r, "saleID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap))
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	bidderRaw := chi.URLParam(r, "bidder")
	if !common.IsHexAddress(bidderRaw) {
		s.writeBadRequest(w, errors.New("invalid bidder address"))
		return
	}
	offer, ok, err := s.registry.OfferOf(chi.URLParam(r, "saleID"), common.HexToAddress(bidderRaw))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, fmt.Errorf("%w: no offer from %s", registry.ErrSaleNotFound, bidderRaw))
		return
	}
	writeJSON(w, http.StatusOK, offerView{Bidder: offer.Bidder.Hex(), Amount: offer.Amount.String(), Asset: offer.Asset})
}

func (s *Server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, true, func(caller common.Address, body []byte) (int, any, error) {
		var req createSaleRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, fmt.Errorf("invalid JSON payload: %w", err)
		}
		if !common.IsHexAddress(req.Administrator) {
			return http.StatusBadRequest, nil, errors.New("administrator address is required")
		}
		admin := common.HexToAddress(req.Administrator)
		if admin != caller {
			return 0, nil, fmt.Errorf("%w: only the administrator may register their own sale", sale.ErrUnauthorized)
		}
		template, err := s.resolveTemplate(req.Template)
		if err != nil {
			return 0, nil, err
		}
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		snap, err := s.registry.Create(ctx, template, admin)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, viewOf(snap), nil
	})
}

func (s *Server) handleStartSale(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, false, func(caller common.Address, body []byte) (int, any, error) {
		var req priceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, fmt.Errorf("invalid JSON payload: %w", err)
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		snap, err := s.registry.StartSale(ctx, chi.URLParam(r, "saleID"), caller, sale.Price{Amount: amount, Asset: req.Asset})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, viewOf(snap), nil
	})
}

func (s *Server) handleMakeOffer(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, false, func(caller common.Address, body []byte) (int, any, error) {
		var req priceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, fmt.Errorf("invalid JSON payload: %w", err)
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		snap, err := s.registry.MakeOffer(ctx, chi.URLParam(r, "saleID"), caller, amount, req.Asset)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, viewOf(snap), nil
	})
}

func (s *Server) handleFinalizeSale(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, true, func(caller common.Address, body []byte) (int, any, error) {
		var req finalizeSaleRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, fmt.Errorf("invalid JSON payload: %w", err)
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		var finalize sale.FinalizeRequest
		switch strings.ToLower(strings.TrimSpace(req.Mode)) {
		case "accept_offer":
			if !common.IsHexAddress(req.Buyer) {
				return http.StatusBadRequest, nil, errors.New("buyer address is required for accept_offer")
			}
			finalize = sale.AcceptOffer{Buyer: common.HexToAddress(req.Buyer), Amount: amount, Asset: req.Asset}
		case "buy_it_now":
			finalize = sale.AcceptBuyItNow{Amount: amount, Asset: req.Asset}
		default:
			return http.StatusBadRequest, nil, errors.New(`mode must be "accept_offer" or "buy_it_now"`)
		}
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		snap, err := s.registry.FinalizeSale(ctx, chi.URLParam(r, "saleID"), caller, finalize)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, viewOf(snap), nil
	})
}

func (s *Server) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, true, func(caller common.Address, body []byte) (int, any, error) {
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		snap, err := s.registry.CancelSale(ctx, chi.URLParam(r, "saleID"), caller)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, viewOf(snap), nil
	})
}

// mutating wraps a state-changing handler with caller resolution, the
// idempotency-key protocol and audit logging. Handlers return a zero status
// to have it derived from the error.
func (s *Server) mutating(w http.ResponseWriter, r *http.Request, requireKey bool, fn func(caller common.Address, body []byte) (int, any, error)) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, "caller identity unavailable", http.StatusUnauthorized)
		return
	}
	body, err := readRequestBody(r)
	if err != nil {
		s.writeBadRequest(w, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if requireKey && key == "" {
		s.writeBadRequest(w, errors.New("missing Idempotency-Key header"))
		return
	}
	requestHash := hashRequest(r.Method, r.URL.Path, body)
	if key != "" && s.store != nil {
		cached, cacheErr := s.store.LookupIdempotency(r.Context(), caller.Hex(), key, requestHash)
		if cacheErr != nil {
			status := statusForError(cacheErr)
			s.respond(r, caller, body, status, []byte(errorBody(cacheErr)))
			writeRaw(w, status, []byte(errorBody(cacheErr)))
			return
		}
		if cached != nil {
			s.respond(r, caller, body, cached.Status, cached.Body)
			writeRaw(w, cached.Status, cached.Body)
			return
		}
	}

	status, result, err := fn(caller, body)
	if err != nil {
		if status == 0 {
			status = statusForError(err)
		}
		payload := []byte(errorBody(err))
		s.respond(r, caller, body, status, payload)
		writeRaw(w, status, payload)
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.respond(r, caller, body, http.StatusInternalServerError, []byte(errorBody(err)))
		writeRaw(w, http.StatusInternalServerError, []byte(errorBody(err)))
		return
	}
	if key != "" && s.store != nil {
		if err := s.store.SaveIdempotency(r.Context(), caller.Hex(), key, requestHash, status, payload); err != nil {
			s.logger.Error("save idempotency record", "key", key, "err", err)
		}
	}
	s.respond(r, caller, body, status, payload)
	writeRaw(w, status, payload)
}

func (s *Server) respond(r *http.Request, caller common.Address, requestBody []byte, status int, responseBody []byte) {
	if s.store == nil {
		return
	}
	entry := AuditEntry{
		Caller:         caller.Hex(),
		Method:         r.Method,
		Path:           r.URL.Path,
		RequestBody:    append([]byte(nil), requestBody...),
		ResponseBody:   append([]byte(nil), responseBody...),
		ResponseStatus: status,
		Timestamp:      s.nowFn().UTC(),
	}
	if err := s.store.InsertAuditLog(r.Context(), entry); err != nil {
		s.logger.Error("insert audit log", "path", entry.Path, "err", err)
	}
}

func (s *Server) resolveTemplate(req templateRequest) (sale.TransferTemplate, error) {
	if name := strings.TrimSpace(req.Catalog); name != "" {
		if !common.IsHexAddress(req.Target) {
			return sale.TransferTemplate{}, fmt.Errorf("%w: target address is required", sale.ErrInvalidTemplate)
		}
		fixed := make(map[int]common.Hash, len(req.FixedParams))
		for slot, raw := range req.FixedParams {
			var idx int
			if _, err := fmt.Sscanf(slot, "%d", &idx); err != nil {
				return sale.TransferTemplate{}, fmt.Errorf("%w: fixed param slot %q", sale.ErrInvalidTemplate, slot)
			}
			fixed[idx] = common.HexToHash(raw)
		}
		return s.catalog.Template(name, common.HexToAddress(req.Target), fixed)
	}

	if !common.IsHexAddress(req.Target) {
		return sale.TransferTemplate{}, fmt.Errorf("%w: target address is required", sale.ErrInvalidTemplate)
	}
	transferSel, err := sale.ParseSelector(req.TransferSelector)
	if err != nil {
		return sale.TransferTemplate{}, fmt.Errorf("%w: transfer selector: %v", sale.ErrInvalidTemplate, err)
	}
	querySel, err := sale.ParseSelector(req.QuerySelector)
	if err != nil {
		return sale.TransferTemplate{}, fmt.Errorf("%w: query selector: %v", sale.ErrInvalidTemplate, err)
	}
	params := make([]common.Hash, len(req.Params))
	for i, raw := range req.Params {
		params[i] = common.HexToHash(raw)
	}
	template := sale.TransferTemplate{
		Target:           common.HexToAddress(req.Target),
		TransferSelector: transferSel,
		Params:           params,
		NewOwnerIndex:    req.NewOwnerIndex,
		QuerySelector:    querySel,
	}
	if err := template.Validate(); err != nil {
		return sale.TransferTemplate{}, err
	}
	return template, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeRaw(w, statusForError(err), []byte(errorBody(err)))
}

func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	writeRaw(w, http.StatusBadRequest, []byte(errorBody(err)))
}

// --- helpers ---

func contextWithTimeout(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(r.Context(), handlerTimeout)
}

func readRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}

func errorBody(err error) string {
	return fmt.Sprintf(`{"error":%q}`, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
