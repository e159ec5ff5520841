package tracking

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

var errBadLink = errors.New("bad tracking link")

// Links builds and verifies signed tracking URLs. The payload is the
// enrollment id, plus the destination for clicks, signed with HMAC-SHA256.
type Links struct {
	BaseURL string
	Secret  []byte
}

// OpenURL returns the tracking pixel URL for an enrollment.
func (l *Links) OpenURL(enrollmentID string) string {
	return l.build("open", enrollmentID)
}

// ClickURL wraps dest so the click is recorded before redirecting.
func (l *Links) ClickURL(enrollmentID, dest string) string {
	return l.build("click", enrollmentID+"|"+dest)
}

// UnsubscribeURL returns the one-click unsubscribe URL for an enrollment.
func (l *Links) UnsubscribeURL(enrollmentID string) string {
	return l.build("unsubscribe", enrollmentID)
}

func (l *Links) build(kind, payload string) string {
	data := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return strings.TrimRight(l.BaseURL, "/") + "/track/" + kind + "/" + data + "/" + l.sign(kind, data)
}

func (l *Links) sign(kind, data string) string {
	mac := hmac.New(sha256.New, l.Secret)
	mac.Write([]byte(kind + "/" + data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:16])
}

// decode verifies sig and returns the payload parts.
func (l *Links) decode(kind, data, sig string) ([]string, error) {
	if !hmac.Equal([]byte(sig), []byte(l.sign(kind, data))) {
		return nil, errBadLink
	}
	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, errBadLink
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if parts[0] == "" {
		return nil, errBadLink
	}
	return parts, nil
}

// EventSink receives events decoded from tracking links. *Publisher
// satisfies it.
type EventSink interface {
	Publish(ctx context.Context, evt Event) error
}

type Handler struct {
	links *Links
	sink  EventSink
	now   func() time.Time
}

func NewHandler(links *Links, sink EventSink) *Handler {
	return &Handler{links: links, sink: sink, now: time.Now}
}

// Routes returns the link endpoints, to be mounted at /track.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/open/{data}/{sig}", h.HandleOpen)
	r.Get("/click/{data}/{sig}", h.HandleClick)
	r.Get("/unsubscribe/{data}/{sig}", h.HandleUnsubscribe)
	r.Post("/unsubscribe/{data}/{sig}", h.HandleUnsubscribe)
	return r
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	parts, err := h.links.decode("open", chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err == nil {
		h.emit(r, Event{EventType: EventOpen, EnrollmentID: parts[0]})
	}
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	parts, err := h.links.decode("click", chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err != nil || len(parts) < 2 {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	dest, err := url.Parse(parts[1])
	if err != nil || (dest.Scheme != "http" && dest.Scheme != "https") {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.emit(r, Event{EventType: EventClick, EnrollmentID: parts[0], LinkURL: dest.String()})
	http.Redirect(w, r, dest.String(), http.StatusTemporaryRedirect)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	parts, err := h.links.decode("unsubscribe", chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	h.emit(r, Event{EventType: EventUnsubscribe, EnrollmentID: parts[0]})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from this sequence.</p>
	</body></html>`))
}

func (h *Handler) emit(r *http.Request, evt Event) {
	evt.IPAddress = realIP(r)
	evt.UserAgent = r.UserAgent()
	evt.Timestamp = h.now().UTC()
	if err := h.sink.Publish(r.Context(), evt); err != nil {
		logger.Error("tracking event dropped", "event_type", string(evt.EventType), "enrollment_id", evt.EnrollmentID, "error", err)
		return
	}
	logger.Debug("tracking event", "event_type", string(evt.EventType), "enrollment_id", evt.EnrollmentID)
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
