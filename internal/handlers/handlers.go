package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"echotwin/internal/farcaster"
	"echotwin/internal/identity"
	"echotwin/internal/ledger"
	"echotwin/internal/pipeline"
	"echotwin/internal/settings"
	"echotwin/pkg/logging"
)

// SignerProvisioner provisions delegated posting credentials.
type SignerProvisioner interface {
	EnsureManagedSigner(ctx context.Context, fid int64) (farcaster.ManagedSigner, error)
}

// Handler serves the authenticated twin API.
type Handler struct {
	settings   *settings.Store
	ledger     *ledger.Store
	signers    SignerProvisioner
	agent      *pipeline.Agent
	logger     logging.Logger
	adminToken string
}

// Config configures the API handler.
type Config struct {
	Settings   *settings.Store
	Ledger     *ledger.Store
	Signers    SignerProvisioner
	Agent      *pipeline.Agent
	Logger     logging.Logger
	AdminToken string
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		settings:   cfg.Settings,
		ledger:     cfg.Ledger,
		signers:    cfg.Signers,
		agent:      cfg.Agent,
		logger:     cfg.Logger,
		adminToken: cfg.AdminToken,
	}
}

// RegisterRoutes attaches the twin API to the given route group.
func RegisterRoutes(router gin.IRoutes, handler *Handler) {
	router.GET("/me", handler.HandleMe)
	router.GET("/settings", handler.HandleGetSettings)
	router.POST("/settings", handler.HandleUpdateSettings)
	router.POST("/kickoff", handler.HandleKickoff)
	router.GET("/replies", handler.HandleListReplies)
	router.POST("/run", handler.HandleRun)
}

// HandleMe returns the authenticated user.
func (h *Handler) HandleMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fid":    identity.FIDFromContext(c),
		"handle": c.GetString(identity.ContextHandle),
	})
}

type settingsResponse struct {
	FID             int64  `json:"fid"`
	DisplayHandle   string `json:"display_handle"`
	Tone            string `json:"tone"`
	PostingEnabled  bool   `json:"posting_enabled"`
	StyleSampleSize int    `json:"style_sample_size"`
	SignerStatus    string `json:"signer_status"`
}

func toSettingsResponse(s settings.Settings) settingsResponse {
	return settingsResponse{
		FID:             s.FID,
		DisplayHandle:   s.DisplayHandle,
		Tone:            s.Tone,
		PostingEnabled:  s.PostingEnabled,
		StyleSampleSize: s.StyleSampleSize,
		SignerStatus:    s.SignerStatus,
	}
}

// HandleGetSettings returns the user's bot settings, defaults when the
// user has not onboarded yet.
func (h *Handler) HandleGetSettings(c *gin.Context) {
	fid := identity.FIDFromContext(c)

	current, err := h.settings.Get(c.Request.Context(), fid)
	if errors.Is(err, settings.ErrNotFound) {
		c.JSON(http.StatusOK, settingsResponse{
			FID:             fid,
			Tone:            "default",
			StyleSampleSize: settings.ClampStyleSampleSize(0),
			SignerStatus:    settings.SignerStatusNone,
		})
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("fid", fid).Error("Failed to load settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, toSettingsResponse(current))
}

type updateSettingsRequest struct {
	DisplayHandle   string `json:"display_handle"`
	Tone            string `json:"tone"`
	PostingEnabled  bool   `json:"posting_enabled"`
	StyleSampleSize int    `json:"style_sample_size"`
}

// HandleUpdateSettings creates or updates the user's bot settings.
func (h *Handler) HandleUpdateSettings(c *gin.Context) {
	fid := identity.FIDFromContext(c)

	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.DisplayHandle == "" {
		req.DisplayHandle = c.GetString(identity.ContextHandle)
	}

	updated, err := h.settings.Upsert(c.Request.Context(), settings.Settings{
		FID:             fid,
		DisplayHandle:   req.DisplayHandle,
		Tone:            req.Tone,
		PostingEnabled:  req.PostingEnabled,
		StyleSampleSize: req.StyleSampleSize,
	})
	if err != nil {
		h.logger.WithError(err).WithField("fid", fid).Error("Failed to save settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, toSettingsResponse(updated))
}

// HandleKickoff provisions the user's managed signer and persists it.
// Provisioning is idempotent; calling kickoff again returns the same
// signer.
func (h *Handler) HandleKickoff(c *gin.Context) {
	fid := identity.FIDFromContext(c)
	ctx := c.Request.Context()

	// Ensure a settings row exists so the signer has somewhere to land.
	if _, err := h.settings.Get(ctx, fid); errors.Is(err, settings.ErrNotFound) {
		if _, err := h.settings.Upsert(ctx, settings.Settings{
			FID:           fid,
			DisplayHandle: c.GetString(identity.ContextHandle),
		}); err != nil {
			h.logger.WithError(err).WithField("fid", fid).Error("Failed to initialize settings")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to initialize settings"})
			return
		}
	} else if err != nil {
		h.logger.WithError(err).WithField("fid", fid).Error("Failed to load settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}

	signer, err := h.signers.EnsureManagedSigner(ctx, fid)
	if err != nil {
		h.logger.WithError(err).WithField("fid", fid).Error("Signer provisioning failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "signer provisioning failed"})
		return
	}

	if err := h.settings.SetSigner(ctx, fid, signer.SignerUUID, settings.SignerStatusActive); err != nil {
		h.logger.WithError(err).WithField("fid", fid).Error("Failed to persist signer")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist signer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signer_uuid":       signer.SignerUUID,
		"signer_public_key": signer.PublicKey,
		"status":            signer.Status,
	})
}

type replyResponse struct {
	ID                string    `json:"id"`
	SourceCastHash    string    `json:"source_cast_hash"`
	ReplyText         string    `json:"reply_text"`
	PublishedCastHash string    `json:"published_cast_hash"`
	CreatedAt         time.Time `json:"created_at"`
}

// HandleListReplies returns the user's most recent published replies.
func (h *Handler) HandleListReplies(c *gin.Context) {
	fid := identity.FIDFromContext(c)

	records, err := h.ledger.ListRecent(c.Request.Context(), fid, 20)
	if err != nil {
		h.logger.WithError(err).WithField("fid", fid).Error("Failed to list replies")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list replies"})
		return
	}

	replies := make([]replyResponse, 0, len(records))
	for _, record := range records {
		replies = append(replies, replyResponse{
			ID:                record.ID,
			SourceCastHash:    record.SourceCastHash,
			ReplyText:         record.ReplyText,
			PublishedCastHash: record.PublishedCastHash,
			CreatedAt:         record.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"replies": replies})
}

// HandleRun triggers a pipeline tick out-of-band. Restricted to the
// admin token since a tick touches every enabled user.
func (h *Handler) HandleRun(c *gin.Context) {
	if h.adminToken == "" || c.GetHeader("X-Admin-Token") != h.adminToken {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin token required"})
		return
	}
	if h.agent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline unavailable"})
		return
	}

	go h.agent.RunTick(context.Background(), time.Now().UTC())
	c.JSON(http.StatusAccepted, gin.H{"status": "tick started"})
}
