package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hakwon/consult/internal/auth"
	"hakwon/consult/internal/chat"
	"hakwon/consult/internal/config"
	"hakwon/consult/internal/identity"
	"hakwon/consult/internal/model"
	"hakwon/consult/internal/realtime"
)

// AcademyStore is the slice of the repository the academy handlers use
// directly.
type AcademyStore interface {
	CreateAcademy(ctx context.Context, academy model.Academy) error
	GetAcademy(ctx context.Context, academyID string) (model.Academy, error)
	ListAcademies(ctx context.Context) ([]model.Academy, error)
	CreateAcademyMember(ctx context.Context, member model.AcademyMember) error
}

type Server struct {
	cfg      config.Config
	identity *identity.Service
	chat     *chat.Service
	store    AcademyStore
	hub      *realtime.Hub
}

func NewServer(cfg config.Config, identitySvc *identity.Service, chatSvc *chat.Service, store AcademyStore, hub *realtime.Hub) *Server {
	return &Server{
		cfg:      cfg,
		identity: identitySvc,
		chat:     chatSvc,
		store:    store,
		hub:      hub,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/firebase-signup", s.handleFirebaseSignup)
	r.Post("/firebase-login", s.handleFirebaseLogin)

	r.Post("/auth/session", s.handleStartSession)
	r.Post("/auth/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.With(s.authMiddleware).Get("/academies", s.handleListAcademies)
	r.With(s.authMiddleware).Post("/academies", s.handleCreateAcademy)
	r.With(s.authMiddleware).Post("/academies/{academyId}/members", s.handleAddAcademyMember)

	r.With(s.authMiddleware).Post("/chat/rooms", s.handleGetOrCreateRoom)
	r.With(s.authMiddleware).Get("/chat/rooms", s.handleListRooms)
	r.With(s.authMiddleware).Get("/chat/rooms/{roomId}/messages", s.handleOpenRoom)
	r.With(s.authMiddleware).Post("/chat/rooms/{roomId}/messages", s.handleSendMessage)
	r.With(s.authMiddleware).Get("/chat/rooms/{roomId}/can-send", s.handleCanSend)
	r.With(s.authMiddleware).Get("/chat/rooms/{roomId}/events", s.handleRoomEvents)
	r.With(s.authMiddleware).Post("/chat/rooms/{roomId}/messages/{messageId}/read", s.handleMarkMessageRead)
	r.With(s.authMiddleware).Get("/chat/unread", s.handleUnreadCount)
	r.With(s.authMiddleware).Get("/chat/unread/events", s.handleUnreadEvents)

	return r
}

// corsMiddleware keeps the bridge endpoints callable from any origin;
// preflight requests get an empty 200.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "authorization, content-type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Models

type bridgeRequest struct {
	IDToken string `json:"idToken"`
	Role    string `json:"role"`
}

type sessionRequest struct {
	IDToken string `json:"idToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	User         userSummary `json:"user"`
}

type userSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

type createRoomRequest struct {
	AcademyID          string `json:"academyId"`
	StaffID            string `json:"staffId"`
	RequiresAcceptance bool   `json:"requiresAcceptance"`
}

type roomResponse struct {
	ID            string `json:"id"`
	AcademyID     string `json:"academyId"`
	ParentID      string `json:"parentId"`
	StaffID       string `json:"staffId,omitempty"`
	LastMessageAt int64  `json:"lastMessageAt"`
	CreatedAt     int64  `json:"createdAt"`
}

type messageResponse struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content"`
	IsRead    bool   `json:"isRead"`
	CreatedAt int64  `json:"createdAt"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type createAcademyRequest struct {
	Name string `json:"name"`
}

type addMemberRequest struct {
	UserID     string `json:"userId"`
	MemberRole string `json:"memberRole"`
	RoleLabel  string `json:"roleLabel"`
	Approved   bool   `json:"approved"`
}

func mapUser(user model.User) userSummary {
	return userSummary{ID: user.ID, Email: user.Email, Phone: user.Phone, Role: user.Role}
}

func mapRoom(room model.ChatRoom) roomResponse {
	resp := roomResponse{
		ID:            room.ID,
		AcademyID:     room.AcademyID,
		ParentID:      room.ParentID,
		LastMessageAt: room.LastMessageAt.Unix(),
		CreatedAt:     room.CreatedAt.Unix(),
	}
	if room.StaffID != nil {
		resp.StaffID = *room.StaffID
	}
	return resp
}

func mapMessage(message model.Message) messageResponse {
	return messageResponse{
		ID:        message.ID,
		RoomID:    message.ChatRoomID,
		SenderID:  message.SenderID,
		Content:   message.Content,
		IsRead:    message.IsRead,
		CreatedAt: message.CreatedAt.Unix(),
	}
}

// Identity bridge

func (s *Server) handleFirebaseSignup(w http.ResponseWriter, r *http.Request) {
	var req bridgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	err := s.identity.Signup(r.Context(), req.IDToken, req.Role)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, identity.ErrMissingToken), errors.Is(err, identity.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "missing_fields")
	case errors.Is(err, identity.ErrNoPhone):
		writeError(w, http.StatusBadRequest, "no_phone_number")
	case errors.Is(err, identity.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, identity.ErrDuplicatePhone):
		writeError(w, http.StatusConflict, "already_registered")
	default:
		log.Printf("firebase signup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func (s *Server) handleFirebaseLogin(w http.ResponseWriter, r *http.Request) {
	var req bridgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	_, err := s.identity.Login(r.Context(), req.IDToken)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, identity.ErrMissingToken):
		writeError(w, http.StatusBadRequest, "missing_fields")
	case errors.Is(err, identity.ErrNoPhone):
		writeError(w, http.StatusBadRequest, "no_phone_number")
	case errors.Is(err, identity.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, identity.ErrNotRegistered):
		writeError(w, http.StatusNotFound, "not_registered")
	default:
		log.Printf("firebase login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// Sessions

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	user, accessToken, refreshToken, err := s.identity.StartSession(r.Context(), req.IDToken, r.UserAgent(), clientIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, authResponse{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			User:         mapUser(user),
		})
	case errors.Is(err, identity.ErrMissingToken), errors.Is(err, identity.ErrNoPhone):
		writeError(w, http.StatusBadRequest, "missing_fields")
	case errors.Is(err, identity.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, identity.ErrNotRegistered):
		writeError(w, http.StatusNotFound, "not_registered")
	default:
		log.Printf("session start failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	user, accessToken, err := s.identity.Refresh(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, authResponse{AccessToken: accessToken, User: mapUser(user)})
	case errors.Is(err, identity.ErrSessionInvalid):
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
	default:
		log.Printf("refresh failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.identity.Logout(r.Context(), req.RefreshToken); err != nil {
		log.Printf("logout failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	user, err := s.identity.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapUser(user))
}

// Academies

func (s *Server) handleListAcademies(w http.ResponseWriter, r *http.Request) {
	academies, err := s.store.ListAcademies(r.Context())
	if err != nil {
		log.Printf("list academies failed: %v", err)
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	type academyResponse struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		OwnerID   string `json:"ownerId"`
		CreatedAt int64  `json:"createdAt"`
	}
	resp := make([]academyResponse, 0, len(academies))
	for _, academy := range academies {
		resp = append(resp, academyResponse{
			ID:        academy.ID,
			Name:      academy.Name,
			OwnerID:   academy.OwnerID,
			CreatedAt: academy.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateAcademy(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if claims.Role != "admin" {
		writeError(w, http.StatusForbidden, "admin_only")
		return
	}

	var req createAcademyRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	now := time.Now().UTC()
	academy := model.Academy{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(req.Name),
		OwnerID:   claims.UserID,
		CreatedAt: now,
	}
	if err := s.store.CreateAcademy(r.Context(), academy); err != nil {
		log.Printf("create academy failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	member := model.AcademyMember{
		ID:         uuid.New().String(),
		AcademyID:  academy.ID,
		UserID:     claims.UserID,
		MemberRole: chat.MemberOwner,
		Approved:   true,
		CreatedAt:  now,
	}
	if err := s.store.CreateAcademyMember(r.Context(), member); err != nil {
		log.Printf("create owner membership failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": academy.ID})
}

func (s *Server) handleAddAcademyMember(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	academyID := chi.URLParam(r, "academyId")
	academy, err := s.store.GetAcademy(r.Context(), academyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "academy_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if academy.OwnerID != claims.UserID {
		writeError(w, http.StatusForbidden, "owner_only")
		return
	}

	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.MemberRole != chat.MemberOwner && req.MemberRole != chat.MemberStaff {
		writeError(w, http.StatusBadRequest, "invalid_member_role")
		return
	}

	member := model.AcademyMember{
		ID:         uuid.New().String(),
		AcademyID:  academyID,
		UserID:     req.UserID,
		MemberRole: req.MemberRole,
		RoleLabel:  strings.TrimSpace(req.RoleLabel),
		Approved:   req.Approved,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateAcademyMember(r.Context(), member); err != nil {
		log.Printf("add academy member failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Chat

func (s *Server) handleGetOrCreateRoom(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil || req.AcademyID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if _, err := s.store.GetAcademy(r.Context(), req.AcademyID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "academy_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	var staffID *string
	if req.StaffID != "" {
		staffID = &req.StaffID
	}
	room, err := s.chat.GetOrCreateRoom(r.Context(), req.AcademyID, claims.UserID, staffID, req.RequiresAcceptance)
	if err != nil {
		log.Printf("get-or-create room failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, mapRoom(room))
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	rooms, err := s.chat.ListRooms(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("list rooms failed: %v", err)
		writeJSON(w, http.StatusOK, []roomResponse{})
		return
	}
	resp := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, mapRoom(room))
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadRoom resolves the room and enforces participation.
func (s *Server) loadRoom(w http.ResponseWriter, r *http.Request, claims *auth.Claims) (model.ChatRoom, bool) {
	roomID := chi.URLParam(r, "roomId")
	room, err := s.chat.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, chat.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room_not_found")
			return model.ChatRoom{}, false
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return model.ChatRoom{}, false
	}
	participant, err := s.chat.IsParticipant(r.Context(), room, claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return model.ChatRoom{}, false
	}
	if !participant {
		writeError(w, http.StatusForbidden, "forbidden")
		return model.ChatRoom{}, false
	}
	return room, true
}

func (s *Server) handleOpenRoom(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	room, ok := s.loadRoom(w, r, claims)
	if !ok {
		return
	}
	messages, err := s.chat.OpenRoom(r.Context(), room.ID, claims.UserID)
	if err != nil {
		log.Printf("open room %s failed: %v", room.ID, err)
		writeJSON(w, http.StatusOK, []messageResponse{})
		return
	}
	resp := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		resp = append(resp, mapMessage(message))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	room, ok := s.loadRoom(w, r, claims)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	message, err := s.chat.SendMessage(r.Context(), room.ID, claims.UserID, req.Content)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, mapMessage(message))
	case errors.Is(err, chat.ErrInvalidContent):
		writeError(w, http.StatusBadRequest, "invalid_content")
	case errors.Is(err, chat.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "message_not_allowed")
	case errors.Is(err, chat.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found")
	default:
		log.Printf("send message failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func (s *Server) handleCanSend(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	room, ok := s.loadRoom(w, r, claims)
	if !ok {
		return
	}
	allowed, err := s.chat.CanSend(r.Context(), room, claims.UserID)
	if err != nil {
		log.Printf("can-send check failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (s *Server) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	room, ok := s.loadRoom(w, r, claims)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageId")
	if err := s.chat.MarkMessageRead(r.Context(), messageID, room.ID, claims.UserID); err != nil {
		log.Printf("mark message read failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	count, err := s.chat.UnreadCount(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("unread count failed: %v", err)
		count = 0
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// Realtime

func (s *Server) handleRoomEvents(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	room, ok := s.loadRoom(w, r, claims)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	// Subscribe before fetching the seed so a message inserted in
	// between is delivered instead of lost; the seen map suppresses
	// the overlap between the two.
	sub := s.hub.SubscribeRoom(room.ID, nil)
	defer sub.Close()

	history, err := s.chat.History(r.Context(), room.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	seen := make([]string, 0, len(history))
	for _, message := range history {
		seen = append(seen, message.ID)
	}
	sub.MarkSeen(seen...)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.C:
			if !open {
				return
			}
			if event.Kind == realtime.KindInsert && event.Message != nil && event.Message.SenderID != claims.UserID {
				// Read receipt for a message that arrived while the
				// room is open; detached from the request context so
				// teardown does not cancel it.
				go func(messageID string) {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := s.chat.MarkMessageRead(ctx, messageID, room.ID, claims.UserID); err != nil {
						log.Printf("realtime read receipt failed: %v", err)
					}
				}(event.Message.ID)
			}
			writeSSE(w, flusher, event)
		}
	}
}

func (s *Server) handleUnreadEvents(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported")
		return
	}

	sub := s.hub.SubscribeEvents()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func() {
		count, err := s.chat.UnreadCount(r.Context(), claims.UserID)
		if err != nil {
			log.Printf("unread recompute failed: %v", err)
			return
		}
		writeSSE(w, flusher, map[string]int64{"count": count})
	}
	send()

	for {
		select {
		case <-r.Context().Done():
			return
		case _, open := <-sub.C:
			if !open {
				return
			}
			// Coarse by design: any message-table event triggers a
			// full recount.
			send()
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("sse marshal failed: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// Helpers

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return ""
}
