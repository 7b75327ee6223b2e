// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lifedash-tui/internal/backend"
	"github.com/jeranaias/lifedash-tui/internal/backend/backendtest"
	"github.com/jeranaias/lifedash-tui/internal/events"
	"github.com/jeranaias/lifedash-tui/internal/model"
)

func starbucks() *model.Record {
	return &model.Record{
		DataType: model.DataTypeExpense,
		Data:     map[string]any{"amount": 45.0, "merchant": "Starbucks"},
	}
}

func TestExtract_StoresPending(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: starbucks()})
	ex := New(srv.Client(), nil)

	p, err := ex.Extract(context.Background(), "conv-1", "Got it! $45 at Starbucks")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "conv-1", p.ConversationID)
	assert.Equal(t, model.DataTypeExpense, p.Record.DataType)

	got, ok := ex.Pending()
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	reqs := srv.Requests(http.MethodPost, "/ai/parse")
	require.Len(t, reqs, 1)
	var body map[string]string
	require.NoError(t, reqs[0].Decode(&body))
	assert.Equal(t, "Got it! $45 at Starbucks", body["text"])
}

func TestExtract_NothingParsed(t *testing.T) {
	tests := []struct {
		name string
		res  backend.ParseResult
	}{
		{"not parsed", backend.ParseResult{Parsed: false}},
		{"no data", backend.ParseResult{Parsed: true}},
		{"empty data", backend.ParseResult{Parsed: true, Record: &model.Record{DataType: model.DataTypeExpense}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := backendtest.New(t)
			srv.SetParseResult(tt.res)
			ex := New(srv.Client(), nil)

			p, err := ex.Extract(context.Background(), "conv-1", "hello")
			require.NoError(t, err)
			assert.Nil(t, p)
			_, ok := ex.Pending()
			assert.False(t, ok)
		})
	}
}

func TestTrigger_ParseFailureIsSilent(t *testing.T) {
	srv := backendtest.New(t)
	srv.FailNext(http.MethodPost, "/ai/parse", http.StatusInternalServerError, "parser crashed")
	ex := New(srv.Client(), nil)

	ex.Trigger(context.Background(), "conv-1", "some reply")
	ex.Wait()

	_, ok := ex.Pending()
	assert.False(t, ok)
}

func TestTrigger_IgnoresEmptyText(t *testing.T) {
	srv := backendtest.New(t)
	ex := New(srv.Client(), nil)

	ex.Trigger(context.Background(), "conv-1", "  ")
	ex.Wait()
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/ai/parse"))
}

func TestTrigger_ReturnsBeforeParse(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: starbucks()})
	release := srv.HoldParse()

	var mu sync.Mutex
	var seen *Pending
	ex := New(srv.Client(), nil, OnPending(func(p *Pending) {
		mu.Lock()
		seen = p
		mu.Unlock()
	}))

	done := make(chan struct{})
	go func() {
		ex.Trigger(context.Background(), "conv-1", "reply")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger blocked on the parse call")
	}

	_, ok := ex.Pending()
	assert.False(t, ok)

	release()
	ex.Wait()
	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, seen)
	assert.Equal(t, "conv-1", seen.ConversationID)
}

func TestTrigger_SurvivesCancelledTurn(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: starbucks()})
	ex := New(srv.Client(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex.Trigger(ctx, "conv-1", "reply")
	ex.Wait()

	_, ok := ex.Pending()
	assert.True(t, ok)
}

// gatedClient answers each parse with a record naming the parsed text, once
// that text's gate is closed.
type gatedClient struct {
	gates map[string]chan struct{}
}

func (c *gatedClient) Parse(ctx context.Context, text string) (*backend.ParseResult, error) {
	select {
	case <-c.gates[text]:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &backend.ParseResult{Parsed: true, Record: &model.Record{
		DataType: model.DataTypeExpense,
		Data:     map[string]any{"source": text},
	}}, nil
}

func (c *gatedClient) Submit(context.Context, model.Record) (*backend.SubmitResult, error) {
	return &backend.SubmitResult{Success: true}, nil
}

func TestTrigger_DropsSupersededResult(t *testing.T) {
	client := &gatedClient{gates: map[string]chan struct{}{
		"older reply": make(chan struct{}),
		"newer reply": make(chan struct{}),
	}}
	var mu sync.Mutex
	var seen []string
	ex := New(client, nil, OnPending(func(p *Pending) {
		mu.Lock()
		seen = append(seen, p.Record.Data["source"].(string))
		mu.Unlock()
	}))

	ex.Trigger(context.Background(), "conv-1", "older reply")
	ex.Trigger(context.Background(), "conv-2", "newer reply")

	// The newer parse returns first, then the older one arrives late.
	close(client.gates["newer reply"])
	require.Eventually(t, func() bool {
		_, ok := ex.Pending()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	close(client.gates["older reply"])
	ex.Wait()

	p, ok := ex.Pending()
	require.True(t, ok)
	assert.Equal(t, "conv-2", p.ConversationID)
	assert.Equal(t, "newer reply", p.Record.Data["source"])
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"newer reply"}, seen)
}

// =============================================================================
// CONFIRM / CANCEL
// =============================================================================

func TestConfirm_SubmitsAndPublishes(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: starbucks()})
	bus := events.NewBus(nil)
	var got []events.DataUpdated
	bus.Subscribe(events.TopicDataUpdated, func(ev events.Event) {
		got = append(got, ev.Payload.(events.DataUpdated))
	})
	ex := New(srv.Client(), bus)

	_, err := ex.Extract(context.Background(), "conv-1", "reply")
	require.NoError(t, err)

	res, err := ex.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)

	submitted := srv.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, model.DataTypeExpense, submitted[0].DataType)
	assert.Equal(t, "Starbucks", submitted[0].Data["merchant"])

	require.Len(t, got, 1)
	assert.Equal(t, model.DataTypeExpense, got[0].DataType)

	_, ok := ex.Pending()
	assert.False(t, ok)
}

func TestConfirm_RejectedDiscardsPending(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: starbucks()})
	srv.SetSubmitResult(backend.SubmitResult{Success: false, Message: "Unknown category"})
	bus := events.NewBus(nil)
	published := 0
	bus.Subscribe(events.TopicDataUpdated, func(events.Event) { published++ })
	ex := New(srv.Client(), bus)

	_, err := ex.Extract(context.Background(), "conv-1", "reply")
	require.NoError(t, err)

	_, err = ex.Confirm(context.Background())
	var subErr *SubmitError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, "Unknown category", subErr.Message)
	assert.Equal(t, 0, published)

	_, ok := ex.Pending()
	assert.False(t, ok)
}

func TestConfirm_TransportErrorDiscardsPending(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: starbucks()})
	ex := New(srv.Client(), nil)
	_, err := ex.Extract(context.Background(), "conv-1", "reply")
	require.NoError(t, err)

	srv.FailNext(http.MethodPost, "/ai/submit", http.StatusBadGateway, "upstream")
	_, err = ex.Confirm(context.Background())
	assert.Error(t, err)
	_, ok := ex.Pending()
	assert.False(t, ok)
}

func TestConfirm_NothingPending(t *testing.T) {
	ex := New(backendtest.New(t).Client(), nil)
	_, err := ex.Confirm(context.Background())
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestCancel_NoBackendCall(t *testing.T) {
	srv := backendtest.New(t)
	srv.SetParseResult(backend.ParseResult{Parsed: true, Record: starbucks()})
	ex := New(srv.Client(), nil)
	_, err := ex.Extract(context.Background(), "conv-1", "reply")
	require.NoError(t, err)

	assert.True(t, ex.Cancel())
	assert.False(t, ex.Cancel())
	assert.Equal(t, 0, srv.Count(http.MethodPost, "/ai/submit"))
}
