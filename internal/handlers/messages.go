package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/krazio-01/whisperwave/internal/api/middleware"
	"github.com/krazio-01/whisperwave/internal/models"
	"github.com/krazio-01/whisperwave/internal/realtime"
)

// FetchMessages handles GET /api/messages/{chatId}. Opening a chat is what
// reading means here, so the requester's unseen count for the chat resets
// to zero as part of the fetch. Resetting an absent or already-zero counter
// is a no-op.
func (h *Handler) FetchMessages(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	chatID, err := uuid.Parse(chi.URLParam(r, "chatId"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	chat, err := h.db.GetChat(r.Context(), chatID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	if chat == nil {
		h.Error(w, http.StatusNotFound, "chat not found")
		return
	}
	if !chat.HasMember(me) {
		h.Error(w, http.StatusForbidden, "not a member of this chat")
		return
	}

	messages, err := h.loadMessages(r, chatID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	if err := h.db.ResetUnseen(r.Context(), chatID, me); err != nil {
		// the fetch already succeeded; a stale counter self-corrects on the
		// next open
		h.logger.Warn().Err(err).Stringer("chat", chatID).Stringer("user", me).Msg("failed to reset unseen count")
	}

	h.JSON(w, http.StatusOK, messages)
}

// loadMessages serves ?recent=N requests from the Redis hot cache when it
// has anything; everything else reads the full history from SQL.
func (h *Handler) loadMessages(r *http.Request, chatID uuid.UUID) ([]models.Message, error) {
	if h.redis != nil {
		if raw := r.URL.Query().Get("recent"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err == nil && limit > 0 {
				cached, err := h.redis.RecentMessages(r.Context(), chatID, limit)
				if err == nil && len(cached) > 0 {
					return cached, nil
				}
			}
		}
	}
	return h.db.ListMessages(r.Context(), chatID)
}

// SendMessage handles POST /api/messages. Accepts JSON for text messages,
// or a multipart form when an image is attached. Delivery (persistence,
// unseen counting, live pushes) runs through the same dispatcher as the
// websocket sendMessage event.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	var rawChatID, text, imageURL string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		rawChatID = r.FormValue("chatId")
		text = r.FormValue("text")

		if file, header, err := r.FormFile("image"); err == nil {
			defer file.Close()
			url, err := h.blobs.Save(r.Context(), "messages", header.Filename, file)
			if err != nil {
				h.Error(w, http.StatusInternalServerError, "failed to store image")
				return
			}
			imageURL = url
		}
	} else {
		var req struct {
			ChatID string `json:"chatId"`
			Text   string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rawChatID = req.ChatID
		text = req.Text
	}

	chatID, err := uuid.Parse(rawChatID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	msg, err := h.dispatch.Deliver(r.Context(), realtime.NewMessage{
		ChatID:   chatID,
		SenderID: me,
		Body:     strings.TrimSpace(text),
		ImageURL: imageURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, realtime.ErrEmptyMessage):
			h.Error(w, http.StatusBadRequest, "message needs text or an image")
		case errors.Is(err, realtime.ErrChatNotFound):
			h.Error(w, http.StatusNotFound, "chat not found")
		case errors.Is(err, realtime.ErrNotMember):
			h.Error(w, http.StatusForbidden, "not a member of this chat")
		default:
			h.logger.Error().Err(err).Stringer("chat", chatID).Msg("message delivery failed")
			h.Error(w, http.StatusInternalServerError, "failed to send message")
		}
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}
