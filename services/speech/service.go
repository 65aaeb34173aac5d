// Package speech exchanges the speech service key for short-lived browser tokens.
package speech

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/upb/grounded-chat/config"
	"github.com/upb/grounded-chat/internal/observability"
	"github.com/upb/grounded-chat/services"
)

// Token is returned to the browser speech SDK
type Token struct {
	Token  string `json:"token"`
	Region string `json:"region"`
}

// Service issues speech tokens via the STS issueToken endpoint
type Service struct {
	http    *resty.Client
	cfg     config.SpeechConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewService creates a speech token service
func NewService(cfg config.SpeechConfig, metrics *observability.Metrics, logger *zap.Logger) *Service {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Ocp-Apim-Subscription-Key", cfg.Key)

	return &Service{
		http:    httpClient,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Enabled reports whether the feature flag is on and credentials are present
func (s *Service) Enabled() bool {
	return s.cfg.Available()
}

// IssueToken requests a new token. It returns services.ErrSpeechDisabled when
// the feature is off and an external error when the token service fails.
func (s *Service) IssueToken(ctx context.Context) (*Token, error) {
	if !s.Enabled() {
		s.metrics.RecordSpeechToken("disabled")
		return nil, services.ErrSpeechDisabled
	}

	log := observability.WithRequest(ctx, s.logger)

	start := time.Now()
	resp, err := s.http.R().
		SetContext(ctx).
		Post(s.cfg.Endpoint())
	s.metrics.ObserveStage(observability.StageSpeech, time.Since(start))

	if err != nil {
		s.metrics.RecordSpeechToken("error")
		s.metrics.RecordUpstreamError(observability.StageSpeech, "0")
		log.Error("speech token request failed", zap.Error(err))
		return nil, services.WrapExternal("speech token request failed", err)
	}

	if resp.IsError() {
		s.metrics.RecordSpeechToken("error")
		s.metrics.RecordUpstreamError(observability.StageSpeech, strconv.Itoa(resp.StatusCode()))
		log.Error("speech token service returned error",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return nil, services.NewDomainError(services.ErrorTypeExternal, "speech token service returned an error status", nil).
			WithDetail("status", resp.StatusCode())
	}

	token := strings.TrimSpace(resp.String())
	if token == "" {
		s.metrics.RecordSpeechToken("error")
		return nil, services.NewDomainError(services.ErrorTypeExternal, "speech token service returned an empty token", nil)
	}

	s.metrics.RecordSpeechToken("issued")
	return &Token{Token: token, Region: s.cfg.Region}, nil
}
