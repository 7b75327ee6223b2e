// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backendtest

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

// =============================================================================
// CHAT
// =============================================================================

func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	var req backend.ChatRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	fn := s.streamFn
	s.mu.Unlock()
	fn(w, r, req)
}

func (s *Server) chatVision(w http.ResponseWriter, r *http.Request) {
	var req backend.VisionRequest
	if err := decode(r, &req); err != nil || req.ImageBase64 == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "image_base64 required"})
		return
	}
	s.mu.Lock()
	reply := s.visionReply
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, backend.VisionResponse{Message: reply})
}

// =============================================================================
// RECORDS
// =============================================================================

func (s *Server) parse(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	hold := s.parseHold
	res := s.parseResult
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var rec model.Record
	if err := decode(r, &rec); err != nil || rec.DataType == "" || len(rec.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Missing data_type or data"})
		return
	}
	s.mu.Lock()
	res := s.submitResult
	if res.Success {
		s.submitted = append(s.submitted, rec)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) testConnection(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	_, ok := model.ActiveProfile(s.profiles)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, backend.ConnectionStatus{Status: "error", Message: "No active LLM config"})
		return
	}
	writeJSON(w, http.StatusOK, backend.ConnectionStatus{Status: "success", Message: "Connection successful"})
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func (s *Server) newConversationLocked(title string, messages []model.Message) *model.Conversation {
	s.nextID++
	if title == "" {
		title = model.DefaultTitle
	}
	if messages == nil {
		messages = []model.Message{}
	}
	now := model.Now()
	conv := &model.Conversation{
		ID:        fmt.Sprintf("conv-%d", s.nextID),
		Title:     title,
		Messages:  model.CloneMessages(messages),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations = append(s.conversations, conv)
	return conv
}

func (s *Server) findLocked(id string) *model.Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Server) listConversations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Conversations())
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title    string          `json:"title"`
		Messages []model.Message `json:"messages"`
	}
	if err := decode(r, &body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	conv := s.newConversationLocked(body.Title, body.Messages).Clone()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.Conversation(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) updateConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title    *string         `json:"title"`
		Messages []model.Message `json:"messages"`
	}
	if err := decode(r, &body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	conv := s.findLocked(chi.URLParam(r, "id"))
	if conv == nil {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
		return
	}
	// Full replace: an omitted title resets to the placeholder.
	conv.Title = model.DefaultTitle
	if body.Title != nil {
		conv.Title = *body.Title
	}
	conv.Messages = model.CloneMessages(body.Messages)
	conv.UpdatedAt = model.Now()
	out := conv.Clone()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	kept := s.conversations[:0]
	for _, c := range s.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.conversations = kept
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
}

func (s *Server) generateTitle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.findLocked(chi.URLParam(r, "id"))
	if conv == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
		return
	}
	if len(conv.Messages) < 2 {
		writeJSON(w, http.StatusOK, map[string]string{"title": model.DefaultTitle})
		return
	}
	conv.Title = s.titleFn(conv)
	writeJSON(w, http.StatusOK, map[string]string{"title": conv.Title})
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Server) listProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Profiles())
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var p model.Profile
	if err := decode(r, &p); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	p.ID = ""
	writeJSON(w, http.StatusOK, s.SeedProfile(p))
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var p model.Profile
	if err := decode(r, &p); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.profiles {
		if s.profiles[i].ID == id {
			p.ID = id
			s.profiles[i] = p
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Config not found"})
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	kept := s.profiles[:0]
	for _, p := range s.profiles {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.profiles = kept
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Config deleted"})
}

func (s *Server) activateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.profiles {
		s.profiles[i].IsDefault = s.profiles[i].ID == id
		found = found || s.profiles[i].IsDefault
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Config not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Config activated"})
}
