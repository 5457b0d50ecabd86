package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"echotwin/internal/farcaster"
	"echotwin/internal/ledger"
	"echotwin/internal/mimic"
	"echotwin/internal/settings"
	"echotwin/pkg/logging"
)

const (
	defaultMaxConcurrency = 4
	defaultLockTTL        = 5 * time.Minute
	defaultStyleCacheTTL  = time.Hour
	styleCacheSize        = 1024
)

// SettingsStore is the slice of the settings layer the pipeline needs.
type SettingsStore interface {
	ListPostingEnabled(ctx context.Context) ([]settings.Settings, error)
	SetSignerStatus(ctx context.Context, fid int64, status string) error
}

// Ledger tracks per-user run cursors and published replies.
type Ledger interface {
	Cursor(ctx context.Context, fid int64) (ledger.RunCursor, error)
	ShouldProcess(ctx context.Context, fid int64, castHash string) (bool, error)
	Advance(ctx context.Context, fid int64, sourceCastHash, replyText, publishedCastHash string, castAt time.Time) error
	CountToday(ctx context.Context, fid int64) (int, error)
}

// SocialClient is the outbound social-graph surface the pipeline uses.
type SocialClient interface {
	FetchRecentCasts(ctx context.Context, fid int64, since time.Time) ([]farcaster.Cast, error)
	FetchUserCasts(ctx context.Context, fid int64, limit int) ([]farcaster.Cast, error)
	PublishCast(ctx context.Context, signerUUID, text, parentHash string) (farcaster.PublishReceipt, error)
}

// ReplyGenerator produces a publishable reply for one cast.
type ReplyGenerator interface {
	Generate(ctx context.Context, prompt mimic.StylePrompt, sourceCastHash string) (mimic.GeneratedReply, error)
}

// AgentConfig configures the pipeline agent.
type AgentConfig struct {
	Settings       SettingsStore
	Ledger         Ledger
	Social         SocialClient
	Generator      ReplyGenerator
	Locker         ledger.RunLocker
	Logger         logging.Logger
	MaxConcurrency int
	MaxPerDay      int
	LockTTL        time.Duration
	StyleCacheTTL  time.Duration
}

// Agent runs the reply pipeline: each tick it walks every
// posting-enabled user, fetches unseen casts, generates a
// style-mimicking reply per cast and publishes it, advancing the run
// cursor only after a confirmed publish.
type Agent struct {
	settings   SettingsStore
	ledger     Ledger
	social     SocialClient
	generator  ReplyGenerator
	locker     ledger.RunLocker
	logger     logging.Logger
	maxWorkers int
	maxPerDay  int
	lockTTL    time.Duration

	// styleCache holds recent style samples per fid so a tick does not
	// refetch the user's own casts for every target cast.
	styleCache *expirable.LRU[int64, []string]
}

func NewAgent(cfg AgentConfig) *Agent {
	maxWorkers := cfg.MaxConcurrency
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxConcurrency
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	cacheTTL := cfg.StyleCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultStyleCacheTTL
	}
	locker := cfg.Locker
	if locker == nil {
		locker = ledger.NewMemoryRunLock()
	}
	return &Agent{
		settings:   cfg.Settings,
		ledger:     cfg.Ledger,
		social:     cfg.Social,
		generator:  cfg.Generator,
		locker:     locker,
		logger:     cfg.Logger,
		maxWorkers: maxWorkers,
		maxPerDay:  cfg.MaxPerDay,
		lockTTL:    lockTTL,
		styleCache: expirable.NewLRU[int64, []string](styleCacheSize, nil, cacheTTL),
	}
}

// RunTick executes one full pipeline pass. Users are processed
// concurrently up to the configured limit; one user's failure never
// aborts another's run.
func (a *Agent) RunTick(ctx context.Context, scheduledAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			if a.logger != nil {
				a.logger.WithField("panic", fmt.Sprint(r)).Error("Pipeline tick panic")
			}
		}
	}()

	ticksTotal.Inc()
	started := time.Now()
	defer func() { tickDuration.Observe(time.Since(started).Seconds()) }()

	users, err := a.settings.ListPostingEnabled(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("Pipeline: failed to list enabled users")
		return
	}
	if len(users) == 0 {
		a.logger.Debug("Pipeline: no posting-enabled users")
		return
	}

	a.logger.WithFields(logging.Fields{
		"users":        len(users),
		"scheduled_at": scheduledAt.UTC().Format(time.RFC3339),
	}).Info("Pipeline tick started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxWorkers)
	for _, user := range users {
		user := user
		g.Go(func() error {
			outcome := a.processUser(gctx, user)
			usersProcessedTotal.WithLabelValues(outcome).Inc()
			// Failures are isolated per user; never propagate.
			return nil
		})
	}
	_ = g.Wait()
}

// processUser runs the pipeline for one user and reports the outcome
// label for metrics.
func (a *Agent) processUser(ctx context.Context, user settings.Settings) string {
	log := a.logger.WithField("fid", user.FID)

	lockToken, acquired, err := a.locker.TryAcquire(ctx, user.FID, a.lockTTL)
	if err != nil {
		log.WithError(err).Warn("Pipeline: run lock failed")
		return "failed"
	}
	if !acquired {
		log.Debug("Pipeline: run already in flight, skipping")
		return "skipped"
	}
	defer func() {
		if err := a.locker.Release(context.WithoutCancel(ctx), user.FID, lockToken); err != nil {
			log.WithError(err).Warn("Pipeline: run lock release failed")
		}
	}()

	if a.maxPerDay > 0 {
		count, err := a.ledger.CountToday(ctx, user.FID)
		if err != nil {
			log.WithError(err).Warn("Pipeline: failed to count today's replies")
			return "failed"
		}
		if count >= a.maxPerDay {
			log.WithField("count", count).Debug("Pipeline: daily reply limit reached")
			return "skipped"
		}
	}

	cursor, err := a.ledger.Cursor(ctx, user.FID)
	if err != nil {
		log.WithError(err).Warn("Pipeline: failed to load run cursor")
		return "failed"
	}

	casts, err := a.social.FetchRecentCasts(ctx, user.FID, cursor.LastCastAt)
	if err != nil {
		log.WithError(err).Warn("Pipeline: feed fetch failed")
		return "failed"
	}
	if len(casts) == 0 {
		return "completed"
	}

	published := 0
	for _, cast := range casts {
		if ctx.Err() != nil {
			return "halted"
		}
		halt, didPublish := a.processCast(ctx, user, cast, log)
		if didPublish {
			published++
			if a.maxPerDay > 0 {
				count, err := a.ledger.CountToday(ctx, user.FID)
				if err == nil && count >= a.maxPerDay {
					log.Debug("Pipeline: daily reply limit reached mid-run")
					return "completed"
				}
			}
		}
		if halt {
			return "halted"
		}
	}

	if published > 0 {
		log.WithField("published", published).Info("Pipeline: user run completed")
	}
	return "completed"
}

// processCast handles a single cast. It returns halt=true when the
// user's run must stop so the cursor never advances past an
// unpublished cast: empty generations and transient publish failures
// are retried on the next tick, and an invalid credential makes
// further publishes pointless.
func (a *Agent) processCast(ctx context.Context, user settings.Settings, cast farcaster.Cast, log logging.Entry) (halt bool, published bool) {
	unseen, err := a.ledger.ShouldProcess(ctx, user.FID, cast.Hash)
	if err != nil {
		log.WithError(err).Warn("Pipeline: processed check failed")
		return true, false
	}
	if !unseen {
		return false, false
	}

	examples, err := a.styleExamples(ctx, user)
	if err != nil {
		log.WithError(err).Warn("Pipeline: style sample fetch failed")
		return true, false
	}

	profile := mimic.Profile{
		FID:             user.FID,
		DisplayHandle:   user.DisplayHandle,
		Tone:            user.Tone,
		StyleSampleSize: user.StyleSampleSize,
	}
	prompt, err := mimic.BuildPrompt(profile, examples, cast)
	if errors.Is(err, mimic.ErrInvalidInput) {
		// Malformed casts can never become valid; skip without halting.
		castsSkippedTotal.WithLabelValues("invalid_input").Inc()
		log.WithError(err).WithField("cast", cast.Hash).Debug("Pipeline: skipping malformed cast")
		return false, false
	}
	if err != nil {
		log.WithError(err).Warn("Pipeline: prompt build failed")
		return true, false
	}

	genStarted := time.Now()
	reply, err := a.generator.Generate(ctx, prompt, cast.Hash)
	generationDuration.Observe(time.Since(genStarted).Seconds())
	if errors.Is(err, mimic.ErrEmptyGeneration) {
		castsSkippedTotal.WithLabelValues("empty_generation").Inc()
		log.WithField("cast", cast.Hash).Debug("Pipeline: empty generation, retrying next tick")
		return true, false
	}
	if err != nil {
		log.WithError(err).WithField("cast", cast.Hash).Warn("Pipeline: generation failed")
		return true, false
	}

	receipt, err := a.social.PublishCast(ctx, user.SignerUUID, reply.Text, cast.Hash)
	if errors.Is(err, farcaster.ErrCredentialInvalid) {
		castsSkippedTotal.WithLabelValues("credential_invalid").Inc()
		log.WithError(err).Warn("Pipeline: signer invalid, flagging for user action")
		if setErr := a.settings.SetSignerStatus(context.WithoutCancel(ctx), user.FID, settings.SignerStatusActionRequired); setErr != nil {
			log.WithError(setErr).Warn("Pipeline: failed to flag signer status")
		}
		return true, false
	}
	if err != nil {
		castsSkippedTotal.WithLabelValues("publish_transient").Inc()
		log.WithError(err).WithField("cast", cast.Hash).Warn("Pipeline: publish failed, retrying next tick")
		return true, false
	}

	if err := a.ledger.Advance(ctx, user.FID, cast.Hash, reply.Text, receipt.CastHash, cast.Timestamp); err != nil {
		if errors.Is(err, ledger.ErrDuplicateReply) {
			// A concurrent run won the race; stop to avoid double work.
			log.WithField("cast", cast.Hash).Warn("Pipeline: duplicate reply detected after publish")
			return true, false
		}
		log.WithError(err).Warn("Pipeline: cursor advance failed")
		return true, false
	}

	repliesPublishedTotal.Inc()
	log.WithFields(logging.Fields{
		"cast":         cast.Hash,
		"reply_cast":   receipt.CastHash,
		"reply_length": len(reply.Text),
	}).Info("Pipeline: reply published")
	return false, true
}

// styleExamples returns the user's recent cast texts, cached per fid.
func (a *Agent) styleExamples(ctx context.Context, user settings.Settings) ([]string, error) {
	if cached, ok := a.styleCache.Get(user.FID); ok {
		return cached, nil
	}

	casts, err := a.social.FetchUserCasts(ctx, user.FID, settings.ClampStyleSampleSize(user.StyleSampleSize))
	if err != nil {
		return nil, err
	}
	examples := make([]string, 0, len(casts))
	for _, cast := range casts {
		examples = append(examples, cast.Text)
	}
	a.styleCache.Add(user.FID, examples)
	return examples, nil
}
