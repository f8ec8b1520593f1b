package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/muzin/wechatapi-sub000/internal/events"
	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/signature"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const maxRequestBody = 64 << 10

type Credentials interface {
	Identity() string
	EnsureAccessToken(ctx context.Context) (credential.AccessToken, error)
	EnsureTicket(ctx context.Context, ticketType string) (credential.Ticket, error)
	RefreshAccessToken(ctx context.Context) (credential.AccessToken, error)
	RefreshTicket(ctx context.Context, ticketType string) (credential.Ticket, error)
}

type Metrics interface {
	IncrementRequestsCount(query, status string)
}

type Alerter interface {
	Alert(ctx context.Context, key, message string) (bool, error)
}

// API serves credentials and signatures over http
type API struct {
	logger  log.Logger
	creds   Credentials
	signer  *signature.Signer
	metrics Metrics
	alerter Alerter
	limiter *limiter
}

type APIOption func(*API)

func WithMetrics(m Metrics) APIOption {
	return func(a *API) { a.metrics = m }
}

func WithAlerter(al Alerter) APIOption {
	return func(a *API) { a.alerter = al }
}

// WithClientInterval throttles every client ip to one request per interval
func WithClientInterval(d time.Duration, c clock.Clock) APIOption {
	return func(a *API) { a.limiter = newLimiter(d, c) }
}

func NewAPI(logger log.Logger, creds Credentials, signer *signature.Signer, opts ...APIOption) *API {
	a := &API{
		logger: logger,
		creds:  creds,
		signer: signer,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(a.metricsMiddleware)
	if a.limiter != nil {
		r.Use(a.limiter.middleware)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/access-token", a.handleAccessToken).Methods(http.MethodGet)
	v1.HandleFunc("/tickets/{type}", a.handleTicket).Methods(http.MethodGet)
	v1.HandleFunc("/jsconfig", a.handleJsConfig).Methods(http.MethodPost)
	v1.HandleFunc("/card-ext", a.handleCardExtension).Methods(http.MethodPost)
	v1.HandleFunc("/invalidate", a.handleInvalidate).Methods(http.MethodPost)

	return r
}

type accessTokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *API) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	token, err := a.creds.EnsureAccessToken(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: token.Value, ExpiresAt: token.ExpiresAt})
}

type ticketResponse struct {
	Ticket    string    `json:"ticket"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.creds.EnsureTicket(r.Context(), mux.Vars(r)["type"])
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket.Value, Type: ticket.Type, ExpiresAt: ticket.ExpiresAt})
}

type jsConfigRequest struct {
	URL string `json:"url"`
}

func (req *jsConfigRequest) Validate() error {
	return validation.ValidateStruct(
		req,
		validation.Field(&req.URL, validation.Required, is.URL),
	)
}

func (a *API) handleJsConfig(w http.ResponseWriter, r *http.Request) {
	var req jsConfigRequest
	if err := decodeRequest(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	ticket, err := a.creds.EnsureTicket(r.Context(), credential.TicketTypeJsAPI)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	// the page url is signed without its fragment
	pageURL, _, _ := strings.Cut(req.URL, "#")

	writeJSON(w, http.StatusOK, a.signer.JsConfig(a.creds.Identity(), ticket.Value, pageURL))
}

type cardExtensionRequest signature.CardExtensionInput

func (req *cardExtensionRequest) Validate() error {
	return validation.ValidateStruct(
		req,
		validation.Field(&req.CardID, validation.Required),
	)
}

func (a *API) handleCardExtension(w http.ResponseWriter, r *http.Request) {
	var req cardExtensionRequest
	if err := decodeRequest(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	ticket, err := a.creds.EnsureTicket(r.Context(), credential.TicketTypeWxCard)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, a.signer.CardExtension(ticket.Value, signature.CardExtensionInput(req)))
}

type invalidateResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req events.Invalidation
	if err := decodeRequest(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	expiresAt, err := events.Apply(r.Context(), a.creds, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, invalidateResponse{ExpiresAt: expiresAt})
}

// badRequest is returned for bodies which can not be decoded
type badRequest struct {
	err error
}

func (e *badRequest) Error() string { return e.err.Error() }

type validatable interface {
	Validate() error
}

func decodeRequest(r *http.Request, dst validatable) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return &badRequest{errors.Wrap(err, "read request body")}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return &badRequest{errors.Wrap(err, "decode request body")}
	}

	if err := dst.Validate(); err != nil {
		return &badRequest{err}
	}

	return nil
}

// statusCode maps credential errors to http statuses
func statusCode(err error) int {
	var br *badRequest

	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case credential.IsTicketTypeError(err):
		return http.StatusBadRequest
	case credential.IsConfigurationError(err):
		return http.StatusInternalServerError
	case credential.IsStoreError(err):
		return http.StatusServiceUnavailable
	case credential.IsAuthorityError(err):
		return http.StatusBadGateway
	case credential.IsContextError(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)

	if code >= http.StatusInternalServerError {
		a.logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}

	if code == http.StatusBadGateway && a.alerter != nil {
		// the alert must not be cut by the client going away
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if _, aErr := a.alerter.Alert(ctx, "authority", "credential authority failed: "+err.Error()); aErr != nil {
			a.logger.Warnf("failed to alert on authority error: %v", aErr)
		}
	}

	writeError(w, code, err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if a.metrics == nil {
			return
		}

		query := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				query = tpl
			}
		}
		a.metrics.IncrementRequestsCount(query, strconv.Itoa(rec.status))
	})
}
