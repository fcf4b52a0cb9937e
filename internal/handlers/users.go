package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/krazio-01/whisperwave/internal/api/middleware"
	"github.com/krazio-01/whisperwave/internal/models"
)

// SearchUser handles GET /api/users/search?keyword=. Exact match on
// username or email, used to start a new direct chat.
func (h *Handler) SearchUser(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		h.Error(w, http.StatusBadRequest, "keyword is required")
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), keyword)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	if user == nil {
		user, err = h.db.GetUserByEmail(r.Context(), strings.ToLower(keyword))
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "search failed")
			return
		}
	}
	if user == nil || user.ID == me {
		h.Error(w, http.StatusNotFound, "no user found")
		return
	}

	h.JSON(w, http.StatusOK, user.Public())
}

// AllUsers handles GET /api/users?search=. Filters the requester's existing
// direct-chat partners, for the sidebar search box.
func (h *Handler) AllUsers(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())
	keyword := strings.TrimSpace(r.URL.Query().Get("search"))

	chats, err := h.db.ListChatsForUser(r.Context(), me)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	seen := make(map[uuid.UUID]bool)
	var partners []uuid.UUID
	for _, c := range chats {
		if c.IsGroup {
			continue
		}
		for _, id := range c.MemberIDs {
			if id != me && !seen[id] {
				seen[id] = true
				partners = append(partners, id)
			}
		}
	}

	if len(partners) == 0 {
		h.JSON(w, http.StatusOK, []models.User{})
		return
	}

	users, err := h.db.SearchUsers(r.Context(), keyword, partners, me)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	for i := range users {
		users[i] = users[i].Public()
	}

	h.JSON(w, http.StatusOK, users)
}
