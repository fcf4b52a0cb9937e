package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/krazio-01/whisperwave/internal/mail"
	"github.com/krazio-01/whisperwave/internal/realtime"
	"github.com/krazio-01/whisperwave/internal/store"
	"github.com/krazio-01/whisperwave/internal/token"
	"github.com/krazio-01/whisperwave/internal/upload"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// maxUploadMemory caps how much of a multipart body stays in memory.
const maxUploadMemory = 10 << 20

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	dispatch *realtime.Dispatcher
	mailer   mail.Mailer
	blobs    upload.BlobStore
	tokens   *token.Issuer
	baseURL  string
	logger   zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil; everything it backs
// degrades to the SQL store.
func NewHandler(db store.DataStore, redis *store.RedisStore, dispatch *realtime.Dispatcher, mailer mail.Mailer, blobs upload.BlobStore, tokens *token.Issuer, baseURL string, logger zerolog.Logger) *Handler {
	return &Handler{
		db:       db,
		redis:    redis,
		dispatch: dispatch,
		mailer:   mailer,
		blobs:    blobs,
		tokens:   tokens,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits a display name to 100 characters, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) == 0 || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
