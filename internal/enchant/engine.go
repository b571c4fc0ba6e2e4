// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

// Package enchant is the item enchant transaction engine. A player selects an
// item and catalysts, which registers a request; a later commit validates the
// request, resolves the outcome and settles it against the inventory under an
// exclusive item lease, then fans out effects and an audit record.
package enchant

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgeworks/anvil/internal/audit"
	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/inventory"
	"github.com/forgeworks/anvil/internal/itemlock"
	"github.com/forgeworks/anvil/internal/player"
	"github.com/forgeworks/anvil/pkg/errutil"
)

var tracer = otel.Tracer("anvil/enchant")

// Config tunes an Engine.
type Config struct {
	// MinCommitInterval is the shortest accepted time between a request and
	// its commit. Faster commits are treated as automation.
	MinCommitInterval time.Duration
	// DisableOverEnchanting rejects items at their template's enchant limit
	// and caps successes there.
	DisableOverEnchanting bool
	// Punishment is applied to suspected cheats.
	Punishment     player.Punishment
	AnnounceWeapon Range
	AnnounceArmor  Range
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		MinCommitInterval: time.Second,
		Punishment:        player.PunishKick,
		AnnounceWeapon:    Range{Min: 7, Max: 127},
		AnnounceArmor:     Range{Min: 6, Max: 127},
	}
}

// Deps are the collaborators of an Engine. Catalog, Store, Transactor and
// Players are required; the rest have defaults.
type Deps struct {
	Catalog    *catalog.Catalog
	Store      inventory.Store
	Transactor inventory.Transactor
	Players    player.Provider
	Skills     player.SkillGranter
	Punisher   player.Punisher
	Locks      *itemlock.Registry
	Events     Publisher
	Audit      audit.Sink
	Rand       RNG
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Engine runs enchant transactions. It is safe for concurrent use by many
// sessions.
type Engine struct {
	cfg       Config
	catalog   *catalog.Catalog
	store     inventory.Store
	tx        inventory.Transactor
	players   player.Provider
	skills    player.SkillGranter
	punisher  player.Punisher
	locks     *itemlock.Registry
	audit     audit.Sink
	rng       RNG
	now       func() time.Time
	log       *slog.Logger
	fx        *effects
	requests  *Registry
	validator Validator
}

// New creates an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	errb := oops.Code("ENGINE_MISCONFIGURED")
	switch {
	case deps.Catalog == nil:
		return nil, errb.Errorf("catalog is required")
	case deps.Store == nil:
		return nil, errb.Errorf("inventory store is required")
	case deps.Transactor == nil:
		return nil, errb.Errorf("transactor is required")
	case deps.Players == nil:
		return nil, errb.Errorf("player provider is required")
	case cfg.MinCommitInterval < 0:
		return nil, errb.With("min_commit_interval", cfg.MinCommitInterval.String()).Errorf("min commit interval must be >= 0")
	}
	if cfg.Punishment == "" {
		cfg.Punishment = player.PunishNone
	}
	if _, err := player.ParsePunishment(string(cfg.Punishment)); err != nil {
		return nil, errb.With("punishment", string(cfg.Punishment)).Errorf("unknown punishment: %v", err)
	}

	if deps.Locks == nil {
		deps.Locks = itemlock.NewRegistry(itemlock.WithWaitObserver(ObserveLockWait))
	}
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard
	}
	if deps.Rand == nil {
		deps.Rand = globalRNG{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	log := deps.Logger.With("component", "enchant")

	return &Engine{
		cfg:      cfg,
		catalog:  deps.Catalog,
		store:    deps.Store,
		tx:       deps.Transactor,
		players:  deps.Players,
		skills:   deps.Skills,
		punisher: deps.Punisher,
		locks:    deps.Locks,
		audit:    deps.Audit,
		rng:      deps.Rand,
		now:      deps.Clock,
		log:      log,
		fx: &effects{
			pub:            deps.Events,
			now:            deps.Clock,
			log:            log,
			announceWeapon: cfg.AnnounceWeapon,
			announceArmor:  cfg.AnnounceArmor,
		},
		requests: NewRegistry(deps.Clock),
		validator: Validator{
			Catalog:               deps.Catalog,
			MinCommitInterval:     cfg.MinCommitInterval,
			DisableOverEnchanting: cfg.DisableOverEnchanting,
		},
	}, nil
}

// Requests returns the engine's request registry.
func (e *Engine) Requests() *Registry { return e.requests }

// Select registers a request to enchant itemID with scrollID, recording the
// item's current level.
func (e *Engine) Select(ctx context.Context, playerID, itemID, scrollID ulid.ULID) (Handle, error) {
	st, ok := e.players.State(playerID)
	if !ok || !st.Online || !st.Attached {
		return Handle{}, ErrSessionDetached(playerID)
	}
	item, err := e.lookup(ctx, itemID)
	if err != nil {
		return Handle{}, err
	}
	if item == nil || !item.OwnedBy(playerID) {
		return Handle{}, ErrStaleReference("item", itemID)
	}
	return e.requests.Begin(playerID, itemID, scrollID, ulid.ULID{}, item.EnchantLevel)
}

// AttachSupport adds a support catalyst to the player's pending request.
func (e *Engine) AttachSupport(playerID, supportID ulid.ULID) error {
	req, ok := e.requests.Get(playerID)
	if !ok {
		return ErrNoRequest(playerID)
	}
	return e.requests.AttachSupport(req.Handle(), supportID)
}

// Disconnect discards the player's pending request. A commit already in
// settlement is not affected.
func (e *Engine) Disconnect(playerID ulid.ULID) {
	if e.requests.Discard(playerID) {
		e.log.Debug("discarded pending enchant request", "player_id", playerID.String())
	}
}

// Commit validates, resolves and settles the player's pending request. The
// returned Result is also sent to the player as an enchant.result event,
// except for silent discards (see IsSilent), which return an error and send
// nothing. The request slot is always cleared.
func (e *Engine) Commit(ctx context.Context, playerID ulid.ULID) (result Result, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "enchant.commit",
		trace.WithAttributes(attribute.String("player.id", playerID.String())))
	defer func() {
		commitDuration.Observe(time.Since(started).Seconds())
		if err != nil {
			rejectionsCounter.WithLabelValues(errutil.Code(err)).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			outcomesCounter.WithLabelValues(string(result.Code)).Inc()
		}
		span.SetAttributes(attribute.String("enchant.result", string(result.Code)))
		span.End()
	}()

	req, ok := e.requests.Get(playerID)
	if !ok || !e.requests.MarkProcessing(req.Handle()) {
		return Result{}, ErrNoRequest(playerID)
	}
	defer e.requests.Clear(req.Handle())
	req.State = StateProcessing

	// Once processing, the commit runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	a, err := e.gather(ctx, req)
	if err != nil {
		return e.fail(ctx, a, errorResult(req.ItemID, req.LevelSnapshot), err)
	}
	if err := e.validator.Validate(a, e.now()); err != nil {
		level := req.LevelSnapshot
		if a.Item != nil {
			level = a.Item.EnchantLevel
		}
		return e.fail(ctx, a, errorResult(req.ItemID, level), err)
	}
	span.SetAttributes(
		attribute.String("item.id", a.Item.ID.String()),
		attribute.Int("item.level", a.Item.EnchantLevel),
		attribute.Int("scroll.template_id", int(a.ScrollTemplate.ItemID)),
	)

	s, err := e.settle(ctx, a)
	if err != nil {
		return e.fail(ctx, a, s.Result, err)
	}

	label := s.label()
	s.Narrative = narrative(label, a, s.Level)
	e.record(ctx, a, s.Result, label, nil)
	e.fx.result(playerID, s.Result, "")
	e.fx.settled(a, s.Result, s.unequipped, s.refund)
	return s.Result, nil
}

// gather loads the live state validation needs. Missing items are left nil.
func (e *Engine) gather(ctx context.Context, req Request) (*Attempt, error) {
	a := &Attempt{Request: req}
	a.Player, a.Known = e.players.State(req.PlayerID)

	var err error
	if a.Item, err = e.lookup(ctx, req.ItemID); err != nil {
		return a, err
	}
	if a.Scroll, err = e.lookup(ctx, req.ScrollID); err != nil {
		return a, err
	}
	if req.HasSupport() {
		if a.Support, err = e.lookup(ctx, req.SupportID); err != nil {
			return a, err
		}
	}
	return a, nil
}

// lookup returns the item, or nil when it does not exist.
func (e *Engine) lookup(ctx context.Context, id ulid.ULID) (*inventory.Item, error) {
	it, err := e.store.Get(ctx, id)
	if errutil.Code(err) == inventory.CodeItemNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, ErrResolution("inventory lookup failed", err)
	}
	return it, nil
}

// fail finishes a commit that did not settle. Silent errors produce no
// notification and no audit entry.
func (e *Engine) fail(ctx context.Context, a *Attempt, res Result, err error) (Result, error) {
	pid := a.Request.PlayerID
	if IsSilent(err) {
		e.log.DebugContext(ctx, "enchant request discarded",
			"player_id", pid.String(), "code", errutil.Code(err))
		return Result{}, err
	}
	if IsSuspectedCheat(err) {
		e.punish(ctx, pid, err)
	}

	label := labelFor(err)
	res.Code, res.Outcome = ResultError, OutcomeError
	res.Narrative = narrative(label, a, res.Level)
	e.log.InfoContext(ctx, "enchant commit rejected",
		"player_id", pid.String(), "code", errutil.Code(err), "reason", err.Error())
	e.record(ctx, a, res, label, err)
	e.fx.result(pid, res, PlayerMessage(err))
	return res, err
}

func (e *Engine) punish(ctx context.Context, playerID ulid.ULID, cause error) {
	if e.punisher == nil || e.cfg.Punishment == player.PunishNone {
		return
	}
	if err := e.punisher.Punish(ctx, playerID, cause.Error(), e.cfg.Punishment); err != nil {
		errutil.LogErrorContext(ctx, e.log, "failed to punish player", err)
	}
}

func (e *Engine) record(ctx context.Context, a *Attempt, r Result, label string, cause error) {
	prov := a.Player.Provenance
	at := e.now()
	entry := audit.Entry{
		ID:             core.NewULIDAt(at).String(),
		Timestamp:      at,
		PlayerID:       a.Request.PlayerID.String(),
		PlayerName:     prov.Name,
		Account:        prov.Account,
		RemoteAddr:     prov.RemoteAddr,
		Label:          label,
		Outcome:        string(r.Code),
		ErrorCode:      errutil.Code(cause),
		SuspectedCheat: IsSuspectedCheat(cause),
		Details:        map[string]any{"narrative": r.Narrative},
	}
	if r.Chance > 0 {
		entry.Details["chance"] = r.Chance
	}
	if cause != nil {
		entry.Details["error"] = cause.Error()
	}
	if a.Item != nil {
		entry.Item = &audit.ItemRef{
			ID:         a.Item.ID.String(),
			TemplateID: int32(a.Item.TemplateID),
			Name:       itemName(a.ItemTemplate, a.Item),
			Level:      r.LevelBefore,
			Count:      a.Item.Count,
		}
		if cause == nil && !r.Destroyed {
			level := r.Level
			entry.LevelAfter = &level
		}
	}
	if a.Scroll != nil {
		entry.Scroll = &audit.ItemRef{ID: a.Scroll.ID.String(), TemplateID: int32(a.Scroll.TemplateID), Count: a.Scroll.Count}
	}
	if a.Support != nil {
		entry.Support = &audit.ItemRef{ID: a.Support.ID.String(), TemplateID: int32(a.Support.TemplateID), Count: a.Support.Count}
	}
	if r.Refund != nil {
		entry.RefundItemID = int32(r.Refund.TemplateID)
		entry.RefundCount = r.Refund.Count
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		errutil.LogErrorContext(ctx, e.log, "failed to record enchant audit entry", err)
	}
}

func labelFor(err error) string {
	switch errutil.Code(err) {
	case CodeAutomationSuspected:
		return audit.LabelAutomation
	case CodeInventoryInconsistency:
		if whatOf(err) == whatDestroy {
			return audit.LabelUnableToDestroy
		}
		return audit.LabelInconsistency
	case CodeItemUnavailable:
		return audit.LabelItemUnavailable
	case CodeBusyState, CodeIneligible:
		return audit.LabelRejected
	default:
		return audit.LabelError
	}
}

func whatOf(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	what, _ := oopsErr.Context()["what"].(string)
	return what
}

func isEngineError(err error) bool {
	switch errutil.Code(err) {
	case CodeDuplicateRequest, CodeNoRequest, CodeBusyState, CodeIneligible,
		CodeAutomationSuspected, CodeInventoryInconsistency, CodeResolutionError,
		CodeItemUnavailable, CodeStaleReference, CodeSessionDetached:
		return true
	default:
		return false
	}
}
