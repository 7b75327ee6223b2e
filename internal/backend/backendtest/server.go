// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backendtest provides an in-memory dashboard backend for tests.
//
// The server implements every AI assistant endpoint the client uses, keeps
// conversations and profiles in memory, records each request, and lets a
// test script stream frames, hold the extraction endpoint open, or fail
// specific calls.
package backendtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

// Mount is the path prefix the API is served under.
const Mount = "/api"

// Request is one recorded call.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Decode unmarshals the recorded body into v.
func (r Request) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// StreamFunc writes a complete streaming reply. It may block on
// r.Context() to simulate a slow model.
type StreamFunc func(w http.ResponseWriter, r *http.Request, req backend.ChatRequest)

type failure struct {
	method  string
	pattern string
	status  int
	detail  string
}

// Server is a fake dashboard backend.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	nextID        int
	conversations []*model.Conversation
	profiles      []model.Profile
	requests      []Request
	failures      []failure

	streamFn     StreamFunc
	visionReply  string
	titleFn      func(conv *model.Conversation) string
	parseResult  backend.ParseResult
	parseHold    chan struct{}
	submitResult backend.SubmitResult
	submitted    []model.Record
}

// New starts a server and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		visionReply:  "I see an image.",
		submitResult: backend.SubmitResult{Success: true, Message: "recorded"},
	}
	s.streamFn = EchoStream
	s.titleFn = firstUserLine

	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the URL to hand to backend.New.
func (s *Server) BaseURL() string {
	return s.URL + Mount
}

// Client returns a backend client for this server.
func (s *Server) Client(opts ...backend.Option) *backend.Client {
	return backend.New(s.BaseURL(), opts...)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Route(Mount+"/ai", func(r chi.Router) {
		r.Post("/chat/stream", s.chatStream)
		r.Post("/chat/vision", s.chatVision)
		r.Post("/parse", s.parse)
		r.Post("/submit", s.submit)
		r.Post("/test", s.testConnection)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.listConversations)
			r.Post("/", s.createConversation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getConversation)
				r.Put("/", s.updateConversation)
				r.Delete("/", s.deleteConversation)
				r.Post("/generate-title", s.generateTitle)
			})
		})

		r.Route("/configs", func(r chi.Router) {
			r.Get("/", s.listProfiles)
			r.Post("/", s.createProfile)
			r.Put("/{id}", s.updateProfile)
			r.Delete("/{id}", s.deleteProfile)
			r.Post("/{id}/activate", s.activateProfile)
		})
	})
	return r
}

// record stores the request and applies any scripted failure.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		p := strings.TrimPrefix(r.URL.Path, Mount)
		p = strings.TrimSuffix(p, "/")

		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: p, Body: body})
		var fail *failure
		for i, f := range s.failures {
			if f.method != r.Method {
				continue
			}
			if ok, _ := path.Match(f.pattern, p); ok {
				matched := f
				fail = &matched
				s.failures = append(s.failures[:i:i], s.failures[i+1:]...)
				break
			}
		}
		s.mu.Unlock()

		if fail != nil {
			writeJSON(w, fail.status, map[string]string{"detail": fail.detail})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// SCRIPTING
// =============================================================================

// FailNext makes the next request matching method and pattern (a path.Match
// pattern relative to the mount, e.g. "/ai/conversations/*") answer with
// status and {"detail": detail}.
func (s *Server) FailNext(method, pattern string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method: method, pattern: pattern, status: status, detail: detail})
}

// SetStreamFunc replaces the streaming handler.
func (s *Server) SetStreamFunc(fn StreamFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamFn = fn
}

// SetStreamBody makes every streaming call answer with the raw body.
func (s *Server) SetStreamBody(body string) {
	s.SetStreamFunc(func(w http.ResponseWriter, _ *http.Request, _ backend.ChatRequest) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	})
}

// SetStreamReply makes every streaming call answer with the fragments as
// content frames followed by [DONE].
func (s *Server) SetStreamReply(fragments ...string) {
	s.SetStreamBody(Frames(fragments...))
}

// SetVisionReply sets the vision endpoint's answer.
func (s *Server) SetVisionReply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visionReply = text
}

// SetTitle makes title generation return a fixed title.
func (s *Server) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titleFn = func(*model.Conversation) string { return title }
}

// SetParseResult sets the extraction endpoint's answer.
func (s *Server) SetParseResult(res backend.ParseResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parseResult = res
}

// HoldParse makes the extraction endpoint block until the returned release
// function is called or the client gives up.
func (s *Server) HoldParse() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold := make(chan struct{})
	s.parseHold = hold
	var once sync.Once
	return func() {
		once.Do(func() { close(hold) })
	}
}

// SetSubmitResult sets the submission endpoint's answer.
func (s *Server) SetSubmitResult(res backend.SubmitResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitResult = res
}

// SeedConversation stores a conversation and returns a copy with its id.
func (s *Server) SeedConversation(title string, messages ...model.Message) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.newConversationLocked(title, messages)
	return conv.Clone()
}

// SeedProfile stores a profile, assigning an id when empty.
func (s *Server) SeedProfile(p model.Profile) model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		s.nextID++
		p.ID = fmt.Sprintf("cfg-%d", s.nextID)
	}
	s.profiles = append(s.profiles, p)
	return p
}

// =============================================================================
// INSPECTION
// =============================================================================

// Requests returns the recorded calls matching method and a path.Match
// pattern. An empty method matches every method.
func (s *Server) Requests(method, pattern string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if method != "" && r.Method != method {
			continue
		}
		if ok, _ := path.Match(pattern, r.Path); ok {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of recorded calls matching method and pattern.
func (s *Server) Count(method, pattern string) int {
	return len(s.Requests(method, pattern))
}

// Conversations returns copies of the stored conversations in order.
func (s *Server) Conversations() []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.Clone())
	}
	return out
}

// Conversation returns a copy of one stored conversation.
func (s *Server) Conversation(id string) (*model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findLocked(id); c != nil {
		return c.Clone(), true
	}
	return nil, false
}

// Submitted returns the records accepted by the submission endpoint.
func (s *Server) Submitted() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Record(nil), s.submitted...)
}

// Profiles returns a copy of the stored profiles.
func (s *Server) Profiles() []model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Profile(nil), s.profiles...)
}

// =============================================================================
// HELPERS
// =============================================================================

// Frames renders content fragments as a complete stream body.
func Frames(fragments ...string) string {
	var b strings.Builder
	for _, f := range fragments {
		raw, _ := json.Marshal(map[string]string{"content": f})
		b.WriteString("data: ")
		b.Write(raw)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// EchoStream answers "Echo: <message>" one word per frame.
func EchoStream(w http.ResponseWriter, _ *http.Request, req backend.ChatRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	words := strings.SplitAfter("Echo: "+req.Message, " ")
	flusher, _ := w.(http.Flusher)
	for _, word := range words {
		raw, _ := json.Marshal(map[string]string{"content": word})
		fmt.Fprintf(w, "data: %s\n\n", raw)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

func firstUserLine(conv *model.Conversation) string {
	for _, m := range conv.Messages {
		if m.Role == model.RoleUser {
			title := []rune(strings.TrimSpace(m.Content))
			if len(title) > 30 {
				title = title[:30]
			}
			return string(title)
		}
	}
	return model.DefaultTitle
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
