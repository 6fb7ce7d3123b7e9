package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/frlabs/sitegate/internal/model"
	"github.com/frlabs/sitegate/internal/pkg/apperrors"
	"github.com/frlabs/sitegate/internal/pkg/logger"
	"github.com/frlabs/sitegate/internal/pkg/metrics"
)

// EvidenceRepo persists accepted consent events.
type EvidenceRepo interface {
	Insert(ctx context.Context, ev *model.ConsentEvidence) error
}

type ConsentLogOptions struct {
	MaxUserAgentChars int
	MaxFieldChars     int
	Buffer            int
}

// ConsentLogService emits one log line per consent event and optionally
// forwards it to an EvidenceRepo without blocking the request.
type ConsentLogService struct {
	log  *slog.Logger
	repo EvidenceRepo
	opts ConsentLogOptions
	now  func() time.Time

	ch        chan *model.ConsentEvidence
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewConsentLogService(l *slog.Logger, repo EvidenceRepo, opts ConsentLogOptions) *ConsentLogService {
	if l == nil {
		l = logger.Get()
	}
	if opts.MaxUserAgentChars <= 0 {
		opts.MaxUserAgentChars = 300
	}
	if opts.MaxFieldChars <= 0 {
		opts.MaxFieldChars = 300
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1000
	}
	s := &ConsentLogService{log: l, repo: repo, opts: opts, now: time.Now}
	if repo != nil {
		s.ch = make(chan *model.ConsentEvidence, opts.Buffer)
		s.wg.Add(1)
		go s.process()
	}
	return s
}

// Record logs ev with the caller's IP and user agent and returns the evidence
// that was emitted.
func (s *ConsentLogService) Record(ctx context.Context, ev *model.ConsentLogEvent, clientIP, userAgent string) *model.ConsentEvidence {
	clean := *ev
	clean.PolicyVersion = s.sanitize(ev.PolicyVersion)
	clean.Source = s.sanitize(ev.Source)
	clean.PagePath = s.sanitize(ev.PagePath)
	clean.PageURL = s.sanitize(ev.PageURL)
	clean.Referrer = s.sanitize(ev.Referrer)
	clean.UserAgent = apperrors.Truncate(ev.UserAgent, s.opts.MaxUserAgentChars)

	if clientIP == "" {
		clientIP = "unknown"
	}
	evidence := &model.ConsentEvidence{
		Event:      clean,
		IP:         clientIP,
		UserAgent:  apperrors.Truncate(userAgent, s.opts.MaxUserAgentChars),
		ReceivedAt: s.now().UTC(),
	}

	logger.Event(ctx, s.log, "cookie_consent",
		slog.String("at", evidence.ReceivedAt.Format(time.RFC3339Nano)),
		slog.String("consent_id", clean.ConsentID),
		slog.String("consent_version", clean.ConsentVersion),
		slog.String("policy_version", clean.PolicyVersion),
		slog.String("source", clean.Source),
		slog.Bool("analytics", clean.Preferences.Analytics),
		slog.Bool("marketing", clean.Preferences.Marketing),
		slog.String("updated_at", clean.UpdatedAt),
		slog.String("expires_at", clean.ExpiresAt),
		slog.String("path", clean.PagePath),
		slog.String("referrer", clean.Referrer),
		slog.String("ip", evidence.IP),
		slog.String("ua", evidence.UserAgent),
	)

	metrics.ConsentEvents.WithLabelValues(
		sourceLabel(clean.Source),
		strconv.FormatBool(clean.Preferences.Analytics),
		strconv.FormatBool(clean.Preferences.Marketing),
	).Inc()

	if s.ch != nil {
		select {
		case s.ch <- evidence:
		default:
			metrics.EvidenceDropped.Inc()
			s.log.Warn("consent evidence buffer full, dropping event", "consent_id", clean.ConsentID)
		}
	}
	return evidence
}

func (s *ConsentLogService) process() {
	defer s.wg.Done()
	for ev := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Insert(ctx, ev); err != nil {
			logger.LogError(ctx, err, "failed to persist consent evidence", "consent_id", ev.Event.ConsentID)
		}
		cancel()
	}
}

// Close drains pending evidence. Record must not be called afterwards.
func (s *ConsentLogService) Close() {
	s.closeOnce.Do(func() {
		if s.ch != nil {
			close(s.ch)
			s.wg.Wait()
		}
	})
}

func (s *ConsentLogService) sanitize(v string) string {
	v = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, v)
	return apperrors.Truncate(strings.TrimSpace(v), s.opts.MaxFieldChars)
}

// sourceLabel keeps the metric's source label to a fixed set; the value is
// client supplied.
func sourceLabel(source string) string {
	switch model.ConsentSource(source) {
	case model.SourceAcceptAll, model.SourceRejectAll, model.SourceCloseX, model.SourceSavePreferences:
		return source
	case "":
		return string(model.SourceUnknown)
	default:
		return "other"
	}
}
