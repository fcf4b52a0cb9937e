package handlers

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/krazio-01/whisperwave/internal/api/middleware"
	"github.com/krazio-01/whisperwave/internal/models"
)

type newChatRequest struct {
	UserID string `json:"userId"`
}

type chatActionRequest struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId,omitempty"`
	Name   string `json:"chatName,omitempty"`
}

// NewChat handles POST /api/chat: open (or return) the direct chat between
// the requester and another user.
func (h *Handler) NewChat(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	var req newChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	other, err := uuid.Parse(req.UserID)
	if err != nil || other == me {
		h.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if peer, err := h.db.GetUserByID(r.Context(), other); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to look up user")
		return
	} else if peer == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	// a direct pair has at most one chat
	existing, err := h.db.FindDirectChat(r.Context(), me, other)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to look up chat")
		return
	}
	if existing != nil {
		h.JSON(w, http.StatusOK, existing)
		return
	}

	chat := &models.Chat{
		ID:        uuid.New(),
		IsGroup:   false,
		MemberIDs: []uuid.UUID{me, other},
	}
	if err := h.db.CreateChat(r.Context(), chat); err != nil {
		h.logger.Error().Err(err).Msg("failed to create chat")
		h.Error(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	created, err := h.db.GetChat(r.Context(), chat.ID)
	if err != nil || created == nil {
		h.Error(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	h.JSON(w, http.StatusCreated, created)
}

// FetchChats handles GET /api/chat: the requester's chats, newest activity
// first, together with their unseen message counts per chat.
func (h *Handler) FetchChats(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	chats, err := h.db.ListChatsForUser(r.Context(), me)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	counts, err := h.db.UnseenCountsForUser(r.Context(), me)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load unseen counts")
		return
	}
	unseen := make(map[string]int, len(counts))
	for chatID, n := range counts {
		unseen[chatID.String()] = n
	}

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"chats":               chats,
		"unseenMessageCounts": unseen,
	})
}

// DeleteChat handles POST /api/chat/delete. For a direct chat the whole
// conversation and its uploaded images are removed for both sides. For a
// group chat the requester leaves; admin rights move to a random remaining
// member, and the group itself is removed with its last member.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	var req chatActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
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

	if !chat.IsGroup {
		h.removeChatCompletely(w, r, chat)
		return
	}

	// group: leave rather than destroy
	var remaining []uuid.UUID
	for _, id := range chat.MemberIDs {
		if id != me {
			remaining = append(remaining, id)
		}
	}

	if len(remaining) == 0 {
		h.removeChatCompletely(w, r, chat)
		return
	}

	if chat.GroupAdmin != nil && *chat.GroupAdmin == me {
		next := remaining[rand.Intn(len(remaining))]
		if err := h.db.SetGroupAdmin(r.Context(), chat.ID, next); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to reassign group admin")
			return
		}
	}

	if err := h.db.RemoveMember(r.Context(), chat.ID, me); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to leave group")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "left the group"})
}

func (h *Handler) removeChatCompletely(w http.ResponseWriter, r *http.Request, chat *models.Chat) {
	images, err := h.db.ListImageURLs(r.Context(), chat.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list chat images")
		return
	}

	if err := h.db.DeleteChat(r.Context(), chat.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}

	// storage cleanup after the row delete; orphaned files beat dangling rows
	for _, url := range images {
		if err := h.blobs.Remove(r.Context(), url); err != nil {
			h.logger.Warn().Err(err).Str("url", url).Msg("failed to remove chat image")
		}
	}
	if h.redis != nil {
		if err := h.redis.InvalidateChat(r.Context(), chat.ID); err != nil {
			h.logger.Warn().Err(err).Stringer("chat", chat.ID).Msg("failed to invalidate chat cache")
		}
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "chat deleted"})
}

// CreateGroupChat handles POST /api/chat/group. Accepts JSON, or multipart
// when the group gets a picture at creation time.
func (h *Handler) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	var name string
	var memberStrs []string
	var avatarURL string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		name = r.FormValue("chatName")
		if raw := r.FormValue("members"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &memberStrs); err != nil {
				h.Error(w, http.StatusBadRequest, "invalid members list")
				return
			}
		}
		if file, header, err := r.FormFile("groupPic"); err == nil {
			defer file.Close()
			url, err := h.blobs.Save(r.Context(), "groups", header.Filename, file)
			if err != nil {
				h.Error(w, http.StatusInternalServerError, "failed to store group picture")
				return
			}
			avatarURL = url
		}
	} else {
		var req struct {
			Name    string   `json:"chatName"`
			Members []string `json:"members"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		name = req.Name
		memberStrs = req.Members
	}

	name = sanitizeName(name)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "group name is required")
		return
	}

	memberIDs := []uuid.UUID{me}
	seen := map[uuid.UUID]bool{me: true}
	for _, s := range memberStrs {
		id, err := uuid.Parse(s)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid member id")
			return
		}
		if !seen[id] {
			seen[id] = true
			memberIDs = append(memberIDs, id)
		}
	}
	if len(memberIDs) < 3 {
		h.Error(w, http.StatusBadRequest, "a group needs at least 3 members including you")
		return
	}

	admin := me
	chat := &models.Chat{
		ID:         uuid.New(),
		Name:       name,
		IsGroup:    true,
		GroupAdmin: &admin,
		AvatarURL:  avatarURL,
		MemberIDs:  memberIDs,
	}
	if err := h.db.CreateChat(r.Context(), chat); err != nil {
		h.logger.Error().Err(err).Msg("failed to create group chat")
		h.Error(w, http.StatusInternalServerError, "failed to create group chat")
		return
	}

	created, err := h.db.GetChat(r.Context(), chat.ID)
	if err != nil || created == nil {
		h.Error(w, http.StatusInternalServerError, "failed to load group chat")
		return
	}
	h.JSON(w, http.StatusCreated, created)
}

// RenameGroup handles PUT /api/chat/group/rename.
func (h *Handler) RenameGroup(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	var req chatActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := sanitizeName(req.Name)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "group name is required")
		return
	}

	chat, ok := h.loadGroupForMember(w, r, req.ChatID, me)
	if !ok {
		return
	}

	if err := h.db.RenameChat(r.Context(), chat.ID, name); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to rename group")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"message": "group renamed"})
}

// AddToGroup handles PUT /api/chat/group/add. Admin only.
func (h *Handler) AddToGroup(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	var req chatActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	chat, ok := h.loadGroupForMember(w, r, req.ChatID, me)
	if !ok {
		return
	}
	if chat.GroupAdmin == nil || *chat.GroupAdmin != me {
		h.Error(w, http.StatusForbidden, "only the group admin can add members")
		return
	}
	if chat.HasMember(target) {
		h.Error(w, http.StatusConflict, "user is already a member")
		return
	}

	if user, err := h.db.GetUserByID(r.Context(), target); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to look up user")
		return
	} else if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.db.AddMember(r.Context(), chat.ID, target); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"message": "member added"})
}

// RemoveFromGroup handles PUT /api/chat/group/remove. The admin can remove
// anyone; a member can only remove themselves.
func (h *Handler) RemoveFromGroup(w http.ResponseWriter, r *http.Request) {
	me := middleware.GetUserIDFromContext(r.Context())

	var req chatActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	chat, ok := h.loadGroupForMember(w, r, req.ChatID, me)
	if !ok {
		return
	}
	isAdmin := chat.GroupAdmin != nil && *chat.GroupAdmin == me
	if !isAdmin && target != me {
		h.Error(w, http.StatusForbidden, "only the group admin can remove other members")
		return
	}
	if !chat.HasMember(target) {
		h.Error(w, http.StatusNotFound, "user is not a member")
		return
	}
	if len(chat.MemberIDs) <= 2 {
		h.Error(w, http.StatusBadRequest, "a group cannot go below 2 members")
		return
	}

	if isAdmin && target == me {
		// admin leaving through the remove endpoint still hands off the group
		var remaining []uuid.UUID
		for _, id := range chat.MemberIDs {
			if id != me {
				remaining = append(remaining, id)
			}
		}
		next := remaining[rand.Intn(len(remaining))]
		if err := h.db.SetGroupAdmin(r.Context(), chat.ID, next); err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to reassign group admin")
			return
		}
	}

	if err := h.db.RemoveMember(r.Context(), chat.ID, target); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"message": "member removed"})
}

func (h *Handler) loadGroupForMember(w http.ResponseWriter, r *http.Request, rawChatID string, me uuid.UUID) (*models.Chat, bool) {
	chatID, err := uuid.Parse(rawChatID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid chat id")
		return nil, false
	}

	chat, err := h.db.GetChat(r.Context(), chatID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load chat")
		return nil, false
	}
	if chat == nil {
		h.Error(w, http.StatusNotFound, "chat not found")
		return nil, false
	}
	if !chat.IsGroup {
		h.Error(w, http.StatusBadRequest, "not a group chat")
		return nil, false
	}
	if !chat.HasMember(me) {
		h.Error(w, http.StatusForbidden, "not a member of this chat")
		return nil, false
	}
	return chat, true
}
