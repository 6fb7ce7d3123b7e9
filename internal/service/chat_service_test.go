package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/frlabs/sitegate/internal/pkg/apperrors"
	"github.com/frlabs/sitegate/internal/upstream/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	resp *openai.Response
	err  error
	got  openai.Request
}

func (s *stubCompleter) CreateResponse(_ context.Context, req openai.Request) (*openai.Response, error) {
	s.got = req
	return s.resp, s.err
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("parola%d", i+1)
	}
	return strings.Join(w, " ")
}

func TestBoundAnswer(t *testing.T) {
	got := BoundAnswer(words(80), 65)
	fields := strings.Fields(got)
	assert.Len(t, fields, 65)
	assert.True(t, strings.HasSuffix(got, "parola65..."))

	short := words(40)
	assert.Equal(t, short, BoundAnswer(short, 65))

	assert.Equal(t, "uno due tre", BoundAnswer("  uno\n\tdue   tre ", 65))
	assert.Equal(t, "", BoundAnswer(" \n ", 65))
}

func TestAskSendsPromptAndOptions(t *testing.T) {
	stub := &stubCompleter{resp: &openai.Response{OutputText: "  Dipende dai processi da automatizzare.  "}}
	svc := NewChatService(stub, ChatOptions{
		Model:           "gpt-5-nano",
		ReasoningEffort: "minimal",
		Verbosity:       "low",
		MaxOutputTokens: 420,
	})

	answer, err := svc.Ask(context.Background(), "  Quanto costa un'automazione?  ")
	require.NoError(t, err)
	assert.Equal(t, "Dipende dai processi da automatizzare.", answer)

	assert.Equal(t, "Quanto costa un'automazione?", stub.got.Input)
	assert.Equal(t, SystemPrompt, stub.got.Instructions)
	assert.Contains(t, stub.got.Instructions, "Rispondi in massimo 60 parole.")
	assert.Equal(t, "minimal", stub.got.Reasoning.Effort)
	assert.Equal(t, "low", stub.got.Text.Verbosity)
	assert.Equal(t, 420, stub.got.MaxOutputTokens)
}

func TestAskTruncatesLongAnswer(t *testing.T) {
	stub := &stubCompleter{resp: &openai.Response{OutputText: words(120)}}
	svc := NewChatService(stub, ChatOptions{Model: "m"})

	answer, err := svc.Ask(context.Background(), "ciao")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(answer), 65)
	assert.True(t, strings.HasSuffix(answer, EllipsisMarker))
}

func TestValidateQuestion(t *testing.T) {
	svc := NewChatService(&stubCompleter{}, ChatOptions{})

	assert.NoError(t, svc.ValidateQuestion(strings.Repeat("è", 600)))

	err := svc.ValidateQuestion(strings.Repeat("a", 601))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	assert.Equal(t, "Massimo 600 caratteri", appErr.Message)

	err = svc.ValidateQuestion("")
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "La domanda e' obbligatoria", appErr.Message)
}

func TestAskErrors(t *testing.T) {
	tests := []struct {
		name    string
		stub    *stubCompleter
		status  int
		errType apperrors.ErrorType
		message string
		details string
	}{
		{
			name:    "upstream status",
			stub:    &stubCompleter{err: &openai.StatusError{StatusCode: 429, Body: `{"error":"quota"}`}},
			status:  http.StatusBadGateway,
			errType: apperrors.ErrUpstream,
			message: "Errore API modello",
			details: `{"error":"quota"}`,
		},
		{
			name:    "timeout",
			stub:    &stubCompleter{err: fmt.Errorf("%w: deadline", openai.ErrTimeout)},
			status:  http.StatusBadGateway,
			errType: apperrors.ErrUpstreamTimeout,
			message: "Timeout API modello",
		},
		{
			name:    "network",
			stub:    &stubCompleter{err: errors.New("connection refused")},
			status:  http.StatusBadGateway,
			errType: apperrors.ErrUpstream,
			message: "Errore API modello",
		},
		{
			name:    "empty answer",
			stub:    &stubCompleter{resp: &openai.Response{Output: []openai.OutputItem{{Type: "reasoning"}}}},
			status:  http.StatusBadGateway,
			errType: apperrors.ErrUpstream,
			message: "Nessuna risposta generata",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChatService(tt.stub, ChatOptions{}).Ask(context.Background(), "ciao")
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.Equal(t, tt.errType, appErr.Type)
			assert.Equal(t, tt.message, appErr.Message)
			assert.Equal(t, tt.details, appErr.Details)
		})
	}
}

func TestAskWithoutCompleter(t *testing.T) {
	svc := NewChatService(nil, ChatOptions{})
	assert.False(t, svc.Available())

	_, err := svc.Ask(context.Background(), "ciao")
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
}
