package farcaster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"echotwin/pkg/clients"
	"echotwin/pkg/logging"
)

var (
	// ErrUpstreamUnavailable signals a transient network or API failure
	// on a read path. The caller retries on the next tick.
	ErrUpstreamUnavailable = errors.New("social graph API unavailable")

	// ErrCredentialInvalid signals a revoked or expired signer. Surfaced
	// to user settings rather than retried.
	ErrCredentialInvalid = errors.New("signer credential invalid")

	// ErrTransientPublish signals a recoverable publish failure. The run
	// cursor is not advanced and the cast is retried on the next tick.
	ErrTransientPublish = errors.New("transient publish failure")
)

const maxReplyLength = 140

// Client speaks to a Neynar-compatible Farcaster API: feed reads, cast
// publishing through a managed signer, and signer provisioning.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the Farcaster client
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	Logger      logging.Logger
	RetryConfig *clients.RetryConfig
}

// NewClient creates a new Farcaster API client
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.neynar.com/v2"
	}

	retryConfig := clients.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryConfig = *cfg.RetryConfig
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: clients.DefaultTransport(),
		},
		logger:      cfg.Logger,
		retryConfig: retryConfig,
	}
}

// FetchRecentCasts returns casts from the user's following feed at or
// newer than since, ordered oldest to newest. The window is inclusive:
// feed timestamps are coarse, so a cast sharing the cursor's timestamp
// may still be unreplied, and the reply ledger dedupes the rest.
// Upstream ordering is not guaranteed, so the client sorts after
// filtering. The user's own casts are excluded to keep the twin from
// replying to itself.
func (c *Client) FetchRecentCasts(ctx context.Context, fid int64, since time.Time) ([]Cast, error) {
	envelope, err := c.fetchFeed(ctx, "/farcaster/feed/following", fid, 50)
	if err != nil {
		return nil, err
	}

	casts := make([]Cast, 0, len(envelope))
	for _, item := range envelope {
		if item.Timestamp.Before(since) {
			continue
		}
		if item.Author.FID == fid {
			continue
		}
		casts = append(casts, Cast{
			Hash:      item.Hash,
			AuthorFID: item.Author.FID,
			Text:      item.Text,
			Timestamp: item.Timestamp,
		})
	}
	sort.Slice(casts, func(i, j int) bool {
		return casts[i].Timestamp.Before(casts[j].Timestamp)
	})
	return casts, nil
}

// FetchUserCasts returns up to limit of the user's most recent casts,
// newest first. Used to collect style samples for prompt building.
func (c *Client) FetchUserCasts(ctx context.Context, fid int64, limit int) ([]Cast, error) {
	if limit <= 0 {
		limit = 5
	}
	envelope, err := c.fetchFeed(ctx, "/farcaster/feed/user/casts", fid, limit)
	if err != nil {
		return nil, err
	}

	casts := make([]Cast, 0, len(envelope))
	for _, item := range envelope {
		casts = append(casts, Cast{
			Hash:      item.Hash,
			AuthorFID: item.Author.FID,
			Text:      item.Text,
			Timestamp: item.Timestamp,
		})
	}
	sort.Slice(casts, func(i, j int) bool {
		return casts[i].Timestamp.After(casts[j].Timestamp)
	})
	if len(casts) > limit {
		casts = casts[:limit]
	}
	return casts, nil
}

func (c *Client) fetchFeed(ctx context.Context, path string, fid int64, limit int) ([]castEnvelope, error) {
	query := url.Values{}
	query.Set("fid", strconv.FormatInt(fid, 10))
	query.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	c.setHeaders(req)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if c.logger != nil {
			c.logger.WithFields(logging.Fields{
				"status_code": resp.StatusCode,
				"fid":         fid,
				"response":    strings.TrimSpace(string(body)),
			}).Warn("Feed fetch failed")
		}
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: decode feed: %w", ErrUpstreamUnavailable, err)
	}
	return feed.Casts, nil
}

// PublishCast creates a reply cast through the user's managed signer.
// The parent is the cast being replied to.
func (c *Client) PublishCast(ctx context.Context, signerUUID, text, parentHash string) (PublishReceipt, error) {
	if signerUUID == "" {
		return PublishReceipt{}, fmt.Errorf("%w: no signer provisioned", ErrCredentialInvalid)
	}
	if strings.TrimSpace(text) == "" {
		return PublishReceipt{}, errors.New("reply text is empty")
	}
	if len(text) > maxReplyLength {
		return PublishReceipt{}, fmt.Errorf("reply text exceeds %d characters", maxReplyLength)
	}

	payload, err := json.Marshal(publishRequest{
		SignerUUID:     signerUUID,
		Text:           text,
		Parent:         parentHash,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return PublishReceipt{}, fmt.Errorf("marshal publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/farcaster/cast", bytes.NewReader(payload))
	if err != nil {
		return PublishReceipt{}, fmt.Errorf("create publish request: %w", err)
	}
	c.setHeaders(req)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return PublishReceipt{}, fmt.Errorf("%w: %w", ErrTransientPublish, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return PublishReceipt{}, fmt.Errorf("%w: status %d", ErrCredentialInvalid, resp.StatusCode)
	default:
		body, _ := io.ReadAll(resp.Body)
		if c.logger != nil {
			c.logger.WithFields(logging.Fields{
				"status_code": resp.StatusCode,
				"response":    strings.TrimSpace(string(body)),
			}).Warn("Cast publish failed")
		}
		return PublishReceipt{}, fmt.Errorf("%w: status %d", ErrTransientPublish, resp.StatusCode)
	}

	var decoded publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PublishReceipt{}, fmt.Errorf("%w: decode publish response: %w", ErrTransientPublish, err)
	}

	publishedAt := decoded.Cast.Timestamp
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}
	return PublishReceipt{CastHash: decoded.Cast.Hash, PublishedAt: publishedAt}, nil
}

// EnsureManagedSigner provisions a delegated signer for the user.
// Provisioning is idempotent: an existing signer is returned as-is and
// repeated calls yield the same signer UUID.
func (c *Client) EnsureManagedSigner(ctx context.Context, fid int64) (ManagedSigner, error) {
	existing, err := c.lookupSigner(ctx, fid)
	if err == nil && existing.SignerUUID != "" {
		return existing, nil
	}

	payload, err := json.Marshal(createSignerRequest{FID: fid})
	if err != nil {
		return ManagedSigner{}, fmt.Errorf("marshal signer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/farcaster/user/signer", bytes.NewReader(payload))
	if err != nil {
		return ManagedSigner{}, fmt.Errorf("create signer request: %w", err)
	}
	c.setHeaders(req)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return ManagedSigner{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return ManagedSigner{}, fmt.Errorf("%w: create signer status %d: %s",
			ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded signerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ManagedSigner{}, fmt.Errorf("%w: decode signer response: %w", ErrUpstreamUnavailable, err)
	}
	return ManagedSigner{
		SignerUUID: decoded.SignerUUID,
		PublicKey:  decoded.PublicKey,
		Status:     decoded.Status,
	}, nil
}

func (c *Client) lookupSigner(ctx context.Context, fid int64) (ManagedSigner, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/farcaster/user/signer?fid="+strconv.FormatInt(fid, 10), nil)
	if err != nil {
		return ManagedSigner{}, fmt.Errorf("create signer lookup request: %w", err)
	}
	c.setHeaders(req)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return ManagedSigner{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ManagedSigner{}, fmt.Errorf("%w: signer lookup status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var decoded signerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ManagedSigner{}, fmt.Errorf("%w: decode signer lookup: %w", ErrUpstreamUnavailable, err)
	}
	if decoded.Error != "" {
		return ManagedSigner{}, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, decoded.Error)
	}
	return ManagedSigner{
		SignerUUID: decoded.SignerUUID,
		PublicKey:  decoded.PublicKey,
		Status:     decoded.Status,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if req.Method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api_key", c.apiKey)
	}
}
