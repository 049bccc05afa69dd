// Package httpapi exposes the dialogue, payment callbacks and admin exports
// over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dennisukpong/transport-booking/internal/booking"
	"github.com/dennisukpong/transport-booking/internal/engine"
	"github.com/dennisukpong/transport-booking/internal/metrics"
	"github.com/dennisukpong/transport-booking/internal/models"
	"github.com/dennisukpong/transport-booking/internal/payment"
	"github.com/dennisukpong/transport-booking/internal/transport"
)

const (
	maxBodyBytes   = 1 << 20
	adminKeyHeader = "X-Admin-Key"
	dateLayout     = "2006-01-02"
)

// MessageHandler answers one inbound message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, userID, text string) (engine.Result, error)
}

// PaymentConfirmer applies provider confirmations.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, charge payment.Charge) (engine.Notification, bool, error)
}

// Notifier delivers unsolicited messages to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

// BookingExporter writes a bookings workbook for [from, to).
type BookingExporter interface {
	Export(ctx context.Context, w io.Writer, from, to time.Time) (int, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Options struct {
	PaymentSecret  string
	AdminKey       string
	Location       *time.Location
	ThrottledReply string
}

type Server struct {
	messages  MessageHandler
	payments  PaymentConfirmer
	notifiers []Notifier
	exporter  BookingExporter
	throttle  *transport.Throttle
	checks    map[string]ReadyCheck
	opts      Options
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewServer(messages MessageHandler, payments PaymentConfirmer, exporter BookingExporter, throttle *transport.Throttle, opts Options, logger *zerolog.Logger) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Server{
		messages: messages,
		payments: payments,
		exporter: exporter,
		throttle: throttle,
		checks:   make(map[string]ReadyCheck),
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// AddNotifier registers a transport that can reach users outside a request.
func (s *Server) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// AddReadyCheck registers a dependency probed by /readyz.
func (s *Server) AddReadyCheck(name string, check ReadyCheck) {
	s.checks[name] = check
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /webhook/messages", s.instrument("messages", s.handleMessage))
	mux.Handle("POST /webhook/payments", s.instrument("payments", s.handlePayment))
	mux.Handle("GET /admin/bookings.xlsx", s.instrument("export", s.handleExport))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /readyz", s.instrument("readyz", s.handleReady))
	return mux
}

// Run serves on port until ctx is done.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", port).Msg("HTTP server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.logger.With().
			Str("request_id", uuid.New().String()).
			Str("route", route).
			Logger()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r.WithContext(l.WithContext(r.Context())))
		metrics.IncHTTPRequest(route, strconv.Itoa(rec.status))
	})
}

type messageRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type messageResponse struct {
	Reply string `json:"reply"`
	Step  string `json:"step,omitempty"`
}

// handleMessage runs one dialogue turn.
// POST /webhook/messages
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.From = strings.TrimSpace(req.From)
	if req.From == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}

	if !s.throttle.Allow(req.From) {
		writeJSON(w, http.StatusTooManyRequests, messageResponse{Reply: s.opts.ThrottledReply})
		return
	}

	res, err := s.messages.HandleMessage(r.Context(), req.From, req.Text)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("user_id", req.From).Msg("Message handling failed")
	}
	writeJSON(w, http.StatusOK, messageResponse{Reply: res.Reply, Step: string(res.Step)})
}

// handlePayment applies a signed provider callback.
// POST /webhook/payments
func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	l := zerolog.Ctx(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !payment.VerifySignature(s.opts.PaymentSecret, body, r.Header.Get(payment.SignatureHeader)) {
		l.Warn().Msg("Payment callback with bad signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	ev, err := payment.ParseEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ev.Succeeded() {
		l.Info().Str("event", ev.Event).Msg("Ignoring payment event")
		w.WriteHeader(http.StatusOK)
		return
	}

	charge := ev.Charge()
	ref := charge.Reference
	n, changed, err := s.payments.ConfirmPayment(r.Context(), charge)
	switch {
	case errors.Is(err, models.ErrBookingNotFound):
		l.Warn().Str("reference", ref).Msg("Payment for unknown booking")
		writeError(w, http.StatusNotFound, "unknown reference")
		return
	case errors.Is(err, booking.ErrChargeMismatch):
		l.Warn().Err(err).Str("reference", ref).Msg("Payment does not cover booking")
		writeError(w, http.StatusUnprocessableEntity, "amount mismatch")
		return
	case err != nil:
		l.Error().Err(err).Str("reference", ref).Msg("Failed to confirm payment")
		writeError(w, http.StatusInternalServerError, "confirmation failed")
		return
	}

	if changed {
		s.notify(r.Context(), n)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) notify(ctx context.Context, n engine.Notification) {
	l := zerolog.Ctx(ctx)
	for _, notifier := range s.notifiers {
		err := notifier.Notify(ctx, n.UserID, n.Text)
		if err == nil {
			return
		}
		l.Debug().Err(err).Str("user_id", n.UserID).Msg("Notifier skipped user")
	}
	l.Info().Str("user_id", n.UserID).Msg("No transport could notify user of payment")
}

// handleExport streams the bookings workbook. The range defaults to the
// current month and to is exclusive.
// GET /admin/bookings.xlsx?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.opts.AdminKey == "" || r.Header.Get(adminKeyHeader) != s.opts.AdminKey {
		writeError(w, http.StatusUnauthorized, "admin key required")
		return
	}

	from, to, err := s.exportRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	n, err := s.exporter.Export(r.Context(), &buf, from, to)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Bookings export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bookings_%s_%s.xlsx"`,
		from.Format(dateLayout), to.Format(dateLayout)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
	zerolog.Ctx(r.Context()).Info().Int("rows", n).Msg("Bookings exported")
}

func (s *Server) exportRange(r *http.Request) (from, to time.Time, err error) {
	loc := s.opts.Location
	now := s.now().In(loc)
	from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	to = from.AddDate(0, 1, 0)

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = time.ParseInLocation(dateLayout, v, loc); err != nil {
			return from, to, fmt.Errorf("invalid from; expected YYYY-MM-DD")
		}
		if q.Get("to") == "" {
			to = from.AddDate(0, 1, 0)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.ParseInLocation(dateLayout, v, loc); err != nil {
			return from, to, fmt.Errorf("invalid to; expected YYYY-MM-DD")
		}
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("from must be before to")
	}
	return from, to, nil
}

// handleReady probes every registered dependency.
// GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("dependency", name).Msg("Not ready")
			writeError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
