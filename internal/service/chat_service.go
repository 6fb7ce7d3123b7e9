package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/frlabs/sitegate/internal/pkg/apperrors"
	"github.com/frlabs/sitegate/internal/pkg/metrics"
	"github.com/frlabs/sitegate/internal/upstream/openai"
)

// SystemPrompt sets persona, tone and scope for every answer.
var SystemPrompt = strings.Join([]string{
	"Sei l'assistente digitale di Francesco Rampini, consulente di automazioni per PMI e professionisti.",
	"Rispondi in italiano, in modo semplice, pratico e rassicurante.",
	"Evita tecnicismi non necessari e frasi troppo lunghe.",
	"Quando utile, usa punti elenco brevi.",
	"Non inventare prezzi precisi: spiega da cosa dipende il costo.",
	"Non fare promesse assolute sui risultati.",
	"Se la richiesta e' complessa, suggerisci di proseguire su WhatsApp o dal form contatti.",
	"Focus dei servizi: automazioni su misura, integrazione strumenti, gestione lead/email/preventivi/report.",
	"Rispondi in massimo 60 parole.",
	"Chiudi con un prossimo passo concreto in una frase.",
}, " ")

const EllipsisMarker = "..."

// Completer is the upstream completion API.
type Completer interface {
	CreateResponse(ctx context.Context, req openai.Request) (*openai.Response, error)
}

type ChatOptions struct {
	Model            string
	ReasoningEffort  string
	Verbosity        string
	MaxOutputTokens  int
	MaxQuestionChars int
	MaxAnswerWords   int
}

type ChatService struct {
	completer Completer
	opts      ChatOptions
}

// NewChatService builds the proxy service. A nil completer means no API
// credential is configured and every question is refused with 503.
func NewChatService(completer Completer, opts ChatOptions) *ChatService {
	if opts.MaxQuestionChars <= 0 {
		opts.MaxQuestionChars = 600
	}
	if opts.MaxAnswerWords <= 0 {
		opts.MaxAnswerWords = 65
	}
	return &ChatService{completer: completer, opts: opts}
}

func (s *ChatService) Available() bool {
	return s != nil && s.completer != nil
}

func (s *ChatService) MaxQuestionChars() int {
	return s.opts.MaxQuestionChars
}

// ValidateQuestion expects an already trimmed question.
func (s *ChatService) ValidateQuestion(question string) error {
	if question == "" {
		return apperrors.NewValidation("La domanda e' obbligatoria")
	}
	if utf8.RuneCountInString(question) > s.opts.MaxQuestionChars {
		return apperrors.NewValidation(fmt.Sprintf("Massimo %d caratteri", s.opts.MaxQuestionChars))
	}
	return nil
}

// Ask forwards one question upstream and returns the bounded answer.
func (s *ChatService) Ask(ctx context.Context, question string) (string, error) {
	if !s.Available() {
		return "", apperrors.New(apperrors.ErrUnavailable, "Servizio chat non disponibile", nil)
	}
	question = strings.TrimSpace(question)
	if err := s.ValidateQuestion(question); err != nil {
		return "", err
	}

	req := openai.Request{
		Model:           s.opts.Model,
		Instructions:    SystemPrompt,
		Input:           question,
		MaxOutputTokens: s.opts.MaxOutputTokens,
	}
	if s.opts.ReasoningEffort != "" {
		req.Reasoning = &openai.Reasoning{Effort: s.opts.ReasoningEffort}
	}
	if s.opts.Verbosity != "" {
		req.Text = &openai.TextOptions{Verbosity: s.opts.Verbosity}
	}

	start := time.Now()
	resp, err := s.completer.CreateResponse(ctx, req)
	if err != nil {
		metrics.UpstreamLatency.WithLabelValues(upstreamLabel(err)).Observe(time.Since(start).Seconds())
		return "", classifyUpstreamError(err)
	}
	metrics.UpstreamLatency.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	answer := BoundAnswer(resp.Text(), s.opts.MaxAnswerWords)
	if answer == "" {
		return "", apperrors.NewUpstream("Nessuna risposta generata", "", nil)
	}
	return answer, nil
}

// BoundAnswer collapses whitespace and keeps at most maxWords words,
// appending EllipsisMarker to the last kept word when it cuts.
func BoundAnswer(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if maxWords <= 0 || len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + EllipsisMarker
}

func classifyUpstreamError(err error) error {
	var statusErr *openai.StatusError
	switch {
	case errors.As(err, &statusErr):
		return apperrors.NewUpstream("Errore API modello", statusErr.Body, err)
	case errors.Is(err, openai.ErrTimeout):
		return apperrors.New(apperrors.ErrUpstreamTimeout, "Timeout API modello", err)
	case errors.Is(err, context.Canceled):
		return apperrors.New(apperrors.ErrInternal, "Errore interno endpoint chat", err)
	default:
		return apperrors.NewUpstream("Errore API modello", "", err)
	}
}

func upstreamLabel(err error) string {
	var statusErr *openai.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("%d", statusErr.StatusCode)
	case errors.Is(err, openai.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
