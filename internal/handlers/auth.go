package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/krazio-01/whisperwave/internal/metrics"
	"github.com/krazio-01/whisperwave/internal/models"
)

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse is the shape the frontend stores after register/login.
type authResponse struct {
	models.User
	Token string `json:"token"`
}

// Register handles POST /api/auth/register. Accepts JSON, or a multipart
// form when the signup includes a profile picture.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	var avatarURL string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		req.Username = r.FormValue("username")
		req.Email = r.FormValue("email")
		req.Password = r.FormValue("password")
		req.ConfirmPassword = r.FormValue("confirmPassword")

		if file, header, err := r.FormFile("profilePic"); err == nil {
			defer file.Close()
			url, err := h.blobs.Save(r.Context(), "avatars", header.Filename, file)
			if err != nil {
				h.Error(w, http.StatusInternalServerError, "failed to store profile picture")
				return
			}
			avatarURL = url
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	req.Username = sanitizeName(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Username == "" || req.Email == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username, email and password are required")
		return
	}
	if !isValidEmail(req.Email) {
		h.Error(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < 6 {
		h.Error(w, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}
	if req.ConfirmPassword != "" && req.Password != req.ConfirmPassword {
		h.Error(w, http.StatusBadRequest, "passwords do not match")
		return
	}

	if existing, err := h.db.GetUserByEmail(r.Context(), req.Email); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check email")
		return
	} else if existing != nil {
		h.Error(w, http.StatusConflict, "email already registered")
		return
	}
	if existing, err := h.db.GetUserByUsername(r.Context(), req.Username); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to check username")
		return
	} else if existing != nil {
		h.Error(w, http.StatusConflict, "username already taken")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	verifyToken, err := randomToken()
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to generate verification token")
		return
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		VerifyToken:  verifyToken,
		AvatarURL:    avatarURL,
	}

	if err := h.db.CreateUser(r.Context(), user); err != nil {
		h.logger.Error().Err(err).Msg("failed to create user")
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	metrics.UsersRegistered.Inc()

	// verification mail is best effort; the link can be re-requested by
	// registering support later
	verifyURL := fmt.Sprintf("%s/api/auth/verify/%s", h.baseURL, verifyToken)
	if err := h.mailer.Send(r.Context(), user.Email,
		"Verify your WhisperWave account",
		"Welcome to WhisperWave! Verify your account: "+verifyURL,
		fmt.Sprintf(`<p>Welcome to WhisperWave, %s!</p><p><a href="%s">Click here to verify your account.</a></p>`, user.Username, verifyURL),
	); err != nil {
		h.logger.Warn().Err(err).Str("email", user.Email).Msg("failed to send verification mail")
	}

	h.JSON(w, http.StatusCreated, map[string]string{
		"message": "registration successful, check your email to verify your account",
	})
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.db.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to look up user")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.Error(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if !user.IsVerified {
		h.Error(w, http.StatusForbidden, "account not verified, check your email")
		return
	}

	signed, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.JSON(w, http.StatusOK, authResponse{User: user.Public(), Token: signed})
}

// VerifyEmail handles GET /api/auth/verify/{token}.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	if tok == "" {
		h.Error(w, http.StatusBadRequest, "missing verification token")
		return
	}

	user, err := h.db.GetUserByVerifyToken(r.Context(), tok)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to look up token")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "invalid or already used verification token")
		return
	}

	if err := h.db.MarkUserVerified(r.Context(), user.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to verify account")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"message": "account verified, you can log in now"})
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
