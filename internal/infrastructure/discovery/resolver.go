package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"livecast/internal/core/domain"
	apperrors "livecast/pkg/errors"
	rlog "livecast/pkg/logger"
	"livecast/pkg/validation"

	"go.uber.org/zap"
)

const (
	resolveTimeout = 10 * time.Second

	// errorBodyLimit bounds how much of an error response is read for
	// diagnostics.
	errorBodyLimit = 4 << 10
)

// HTTPResolver fetches per-session connection material from the discovery
// API. It serves both resolution (endpoints plus ICE servers) and the polled
// viewer count.
type HTTPResolver struct {
	apiURL string
	client *http.Client
	logger *zap.SugaredLogger
}

// NewHTTPResolver creates a resolver against the given API base URL.
func NewHTTPResolver(apiURL string) *HTTPResolver {
	return &HTTPResolver{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{
			Timeout: resolveTimeout,
		},
		logger: rlog.New("info").Sugar(),
	}
}

// SetLogger replaces the default logger.
func (r *HTTPResolver) SetLogger(logger *zap.SugaredLogger) {
	r.logger = logger
}

// SetHTTPClient replaces the default HTTP client.
func (r *HTTPResolver) SetHTTPClient(client *http.Client) {
	r.client = client
}

// Resolve fetches the session's connection material. A missing ICE server
// list is replaced with the default fallback so callers always get at least
// one STUN server.
func (r *HTTPResolver) Resolve(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error) {
	if err := validation.ValidateSessionID(string(id)); err != nil {
		return nil, apperrors.NewSessionInvalidError(err.Error())
	}

	url := fmt.Sprintf("%s/api/v1/live/%s/webrtc", r.apiURL, id)

	resp, err := r.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrSessionNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, r.statusError(resp, "session info request failed")
	}

	var info domain.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "malformed session info response", http.StatusBadGateway)
	}

	if info.ID == "" {
		info.ID = id
	}
	if len(info.ICEServers) == 0 {
		r.logger.Debugw("session info carried no ICE servers, using defaults", "session_id", id)
		info.ICEServers = domain.DefaultICEServers()
	}
	info.ResolvedAt = time.Now()

	r.logger.Debugw("session resolved",
		"session_id", info.ID,
		"status", info.Status,
		"has_whip", info.WHIPEndpoint != "",
		"has_hls", info.HLSURL != "")

	return &info, nil
}

// ViewerCount polls the authoritative viewer count for the session.
func (r *HTTPResolver) ViewerCount(ctx context.Context, id domain.SessionID) (int, error) {
	if err := validation.ValidateSessionID(string(id)); err != nil {
		return 0, apperrors.NewSessionInvalidError(err.Error())
	}

	url := fmt.Sprintf("%s/api/v1/live/%s/viewers", r.apiURL, id)

	resp, err := r.get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, domain.ErrSessionNotFound
	case resp.StatusCode != http.StatusOK:
		return 0, r.statusError(resp, "viewer count request failed")
	}

	var payload struct {
		ViewerCount *int `json:"viewer_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, apperrors.WrapError(err, apperrors.ErrCodeInternal, "malformed viewer count response", http.StatusBadGateway)
	}
	if payload.ViewerCount == nil || *payload.ViewerCount < 0 {
		return 0, apperrors.NewAppError(apperrors.ErrCodeInternal, "viewer count missing or negative", http.StatusBadGateway)
	}

	return *payload.ViewerCount, nil
}

func (r *HTTPResolver) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "building discovery request failed", http.StatusInternalServerError)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "discovery endpoint unreachable", http.StatusServiceUnavailable)
	}
	return resp, nil
}

func (r *HTTPResolver) statusError(resp *http.Response, message string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	err := apperrors.NewAppError(apperrors.ErrCodeServiceUnavailable,
		fmt.Sprintf("%s: HTTP %d", message, resp.StatusCode), http.StatusServiceUnavailable)
	if len(body) > 0 {
		err = err.WithContext("response", string(body))
	}
	return err
}
