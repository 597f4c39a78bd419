package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
	"github.com/smallbiznis/yardcraft/internal/events"
	"github.com/smallbiznis/yardcraft/internal/funding"
	"github.com/smallbiznis/yardcraft/internal/generation/domain"
	"github.com/smallbiznis/yardcraft/internal/imagegen"
	"github.com/smallbiznis/yardcraft/internal/imagery"
	ledgerdomain "github.com/smallbiznis/yardcraft/internal/ledger/domain"
	obscontext "github.com/smallbiznis/yardcraft/internal/observability/context"
	obslogger "github.com/smallbiznis/yardcraft/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/yardcraft/internal/observability/metrics"
	"github.com/smallbiznis/yardcraft/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// settleTimeout bounds the bookkeeping done after an area's own deadline
// has passed.
const settleTimeout = 15 * time.Second

const recoveryBatch = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Ledger     ledgerdomain.Service
	Imagery    imagery.Gateway
	Model      imagegen.Model
	Clock      clock.Clock
	Policy     *config.GenerationPolicyHolder
	Reloader   domain.Reloader     `optional:"true"`
	Events     events.Publisher    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	ledger     ledgerdomain.Service
	imagery    imagery.Gateway
	model      imagegen.Model
	clock      clock.Clock
	policy     *config.GenerationPolicyHolder
	reloader   domain.Reloader
	events     events.Publisher
	obsMetrics *obsmetrics.Metrics

	mu       sync.Mutex
	closing  bool
	inflight map[snowflake.ID]struct{}
	wg       sync.WaitGroup
}

func NewService(p Params) *Service {
	publisher := p.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("generation.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledger:     p.Ledger,
		imagery:    p.Imagery,
		model:      p.Model,
		clock:      p.Clock,
		policy:     p.Policy,
		reloader:   p.Reloader,
		events:     publisher,
		obsMetrics: p.ObsMetrics,
		inflight:   map[snowflake.ID]struct{}{},
	}
}

func (s *Service) Submit(ctx context.Context, accountID snowflake.ID, req domain.SubmitRequest) (domain.Request, error) {
	policy := s.policy.Get()
	normalized, err := req.Normalize(domain.Limits{
		MaxAreas:           policy.MaxAreas,
		CustomPromptMaxLen: policy.CustomPromptMaxLen,
	})
	if err != nil {
		return domain.Request{}, err
	}

	generationID := s.genID.Generate()
	if !s.track(generationID) {
		return domain.Request{}, domain.ErrShuttingDown
	}
	dispatched := false
	defer func() {
		if !dispatched {
			s.untrack(generationID)
		}
	}()

	var request domain.Request
	reservation, err := s.ledger.Reserve(ctx, ledgerdomain.ReserveRequest{
		AccountID:    accountID,
		Units:        len(normalized.Areas),
		GenerationID: generationID,
		Description:  fmt.Sprintf("landscape design for %d area(s)", len(normalized.Areas)),
		Persist: func(ctx context.Context, tx *gorm.DB, reservation ledgerdomain.Reservation) error {
			request = s.newRequest(generationID, accountID, normalized, reservation)
			return s.repo.Insert(ctx, tx, &request)
		},
	})
	if err != nil {
		s.obsMetrics.RecordGeneration(ctx, submitOutcome(err), "")
		return domain.Request{}, err
	}

	log := obslogger.WithContext(ctx, s.log)
	log.Info("generation submitted",
		zap.String("generation_id", request.ID.String()),
		zap.String("account_id", accountID.String()),
		zap.String("funding_source", reservation.Source.String()),
		zap.Int("areas", len(request.Areas)),
	)
	s.obsMetrics.RecordGeneration(ctx, "submitted", reservation.Source.String())
	s.publish(ctx, events.EventGenerationSubmitted, request)

	dispatched = true
	background := obscontext.Detach(ctx)
	go func() {
		defer s.untrack(generationID)
		s.run(background, request)
		if reservation.Source == funding.SourceToken {
			s.maybeReload(background, accountID)
		}
	}()

	return request, nil
}

func submitOutcome(err error) string {
	switch {
	case errors.Is(err, funding.ErrAuthorizationDenied):
		return "denied"
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "error"
	}
}

func (s *Service) newRequest(id, accountID snowflake.ID, req domain.SubmitRequest, reservation ledgerdomain.Reservation) domain.Request {
	now := s.clock.Now()
	request := domain.Request{
		ID:                  id,
		AccountID:           accountID,
		Address:             req.Address,
		Status:              domain.StatusPending,
		FundingSource:       reservation.Source,
		UnitsDebited:        reservation.Units,
		LedgerTransactionID: reservation.TransactionID,
		CreatedAt:           now,
		UpdatedAt:           now,
		Areas:               make([]domain.AreaItem, 0, len(req.Areas)),
	}
	for i, in := range req.Areas {
		request.Areas = append(request.Areas, domain.AreaItem{
			ID:           s.genID.Generate(),
			GenerationID: id,
			Position:     i,
			AreaType:     in.AreaType,
			Style:        in.Style,
			CustomPrompt: in.CustomPrompt,
			Status:       domain.AreaPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return request
}

// run processes every area with bounded parallelism. One area's failure
// never cancels its siblings.
func (s *Service) run(ctx context.Context, request domain.Request) {
	policy := s.policy.Get()
	ctx, cancel := context.WithTimeout(ctx, policy.RequestTimeout)
	defer cancel()

	log := obslogger.WithContext(ctx, s.log).With(zap.String("generation_id", request.ID.String()))
	if err := s.repo.MarkProcessing(ctx, s.db, request.ID, s.clock.Now()); err != nil {
		log.Error("failed to mark generation processing", zap.Error(err))
	}

	limit := policy.MaxConcurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, area := range request.Areas {
		area := area
		g.Go(func() error {
			s.runArea(ctx, request, area, policy.AreaTimeout)
			return nil
		})
	}
	_ = g.Wait()

	settleCtx, settleCancel := context.WithTimeout(obscontext.Detach(ctx), settleTimeout)
	defer settleCancel()
	s.finalize(settleCtx, request)
}

func (s *Service) runArea(ctx context.Context, request domain.Request, area domain.AreaItem, timeout time.Duration) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("generation_id", request.ID.String()),
		zap.String("area_id", area.ID.String()),
		zap.String("area_type", string(area.AreaType)),
	)
	started := s.clock.Now()

	settleCtx, settleCancel := context.WithTimeout(obscontext.Detach(ctx), settleTimeout)
	defer settleCancel()

	if ctx.Err() != nil {
		s.failArea(settleCtx, request, area, domain.FailureTimeout, "request deadline passed before the area started")
		return
	}
	ok, err := s.repo.StartArea(ctx, s.db, area.ID, started)
	if err != nil {
		log.Error("failed to start area", zap.Error(err))
		s.failArea(settleCtx, request, area, domain.FailureInternal, "could not start area")
		return
	}
	if !ok {
		return
	}

	areaCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultURL, imagerySource, err := s.generateArea(areaCtx, request.Address, area)
	elapsed := s.clock.Now().Sub(started)
	if err != nil {
		code := failureCode(areaCtx, err)
		log.Warn("area generation failed", zap.String("failure", code), zap.Error(err))
		s.obsMetrics.RecordArea(ctx, string(domain.AreaFailed), elapsed)
		s.failArea(settleCtx, request, area, code, err.Error())
		return
	}

	completed, err := s.repo.CompleteArea(settleCtx, s.db, area.ID, imagerySource, resultURL, s.clock.Now())
	if err != nil {
		log.Error("failed to record completed area", zap.Error(err))
		s.failArea(settleCtx, request, area, domain.FailureInternal, "could not record result")
		return
	}
	if completed {
		s.obsMetrics.RecordArea(ctx, string(domain.AreaCompleted), elapsed)
	}
}

func (s *Service) generateArea(ctx context.Context, address string, area domain.AreaItem) (string, string, error) {
	perspective := imagery.PerspectiveAerial
	if area.AreaType.StreetLevel() {
		perspective = imagery.PerspectiveStreet
	}

	image, err := s.imagery.Fetch(ctx, address, perspective)
	if err != nil {
		return "", "", &stageError{stage: stageImagery, err: err}
	}

	result, err := s.model.Generate(ctx, imagegen.GenerateInput{
		Source:       image,
		AreaType:     string(area.AreaType),
		Style:        string(area.Style),
		Instructions: area.CustomPrompt,
	})
	if err != nil {
		return "", "", &stageError{stage: stageModel, err: err}
	}
	return result.ImageURL, string(image.Perspective), nil
}

type stage int

const (
	stageImagery stage = iota + 1
	stageModel
)

type stageError struct {
	stage stage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failureCode(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return domain.FailureTimeout
	case errors.Is(err, imagery.ErrImageryUnavailable):
		return domain.FailureImageryUnavailable
	case errors.Is(err, imagery.ErrQuotaExceeded):
		return domain.FailureQuotaExceeded
	case errors.Is(err, imagegen.ErrModel):
		return domain.FailureModel
	}
	var se *stageError
	if errors.As(err, &se) {
		switch se.stage {
		case stageImagery:
			return domain.FailureImageryUnavailable
		case stageModel:
			return domain.FailureModel
		}
	}
	return domain.FailureInternal
}

// failArea moves the area to failed and refunds its unit. Only the caller
// that wins the transition refunds.
func (s *Service) failArea(ctx context.Context, request domain.Request, area domain.AreaItem, code, detail string) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("generation_id", request.ID.String()),
		zap.String("area_id", area.ID.String()),
	)
	failed, err := s.repo.FailArea(ctx, s.db, area.ID, code, truncate(detail, 500), s.clock.Now())
	if err != nil {
		log.Error("failed to record failed area", zap.Error(err))
		return
	}
	if !failed {
		return
	}
	s.refund(ctx, request, area.ID, code)
}

func (s *Service) refund(ctx context.Context, request domain.Request, areaID snowflake.ID, code string) bool {
	_, err := s.ledger.RefundArea(ctx, ledgerdomain.RefundRequest{
		AccountID:    request.AccountID,
		GenerationID: request.ID,
		AreaItemID:   areaID,
		Source:       request.FundingSource,
		Reason:       "refund: " + code,
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, ledgerdomain.ErrAlreadyRefunded):
		return false
	default:
		// The recovery sweep retries refunds that did not land.
		obslogger.WithContext(ctx, s.log).Error("failed to refund area",
			zap.String("generation_id", request.ID.String()),
			zap.String("area_id", areaID.String()),
			zap.Error(err),
		)
		return false
	}
}

func (s *Service) finalize(ctx context.Context, request domain.Request) {
	status, err := s.repo.Finalize(ctx, s.db, request.ID, s.clock.Now())
	if err != nil {
		obslogger.WithContext(ctx, s.log).Error("failed to finalize generation",
			zap.String("generation_id", request.ID.String()),
			zap.Error(err),
		)
		return
	}
	s.obsMetrics.RecordGeneration(ctx, string(status), request.FundingSource.String())

	final, err := s.repo.FindByID(ctx, s.db, request.AccountID, request.ID)
	if err != nil || final == nil {
		final = &request
		final.Status = status
	}
	obslogger.WithContext(ctx, s.log).Info("generation finished",
		zap.String("generation_id", request.ID.String()),
		zap.String("status", string(status)),
		zap.Int("units_refunded", final.UnitsRefunded),
	)
	s.publish(ctx, events.EventGenerationFinished, *final)
}

func (s *Service) maybeReload(ctx context.Context, accountID snowflake.ID) {
	if s.reloader == nil {
		return
	}
	if err := s.reloader.MaybeReload(ctx, accountID); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("auto reload failed",
			zap.String("account_id", accountID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) Get(ctx context.Context, accountID, id snowflake.ID) (domain.Request, error) {
	request, err := s.repo.FindByID(ctx, s.db, accountID, id)
	if err != nil {
		return domain.Request{}, err
	}
	if request == nil {
		return domain.Request{}, domain.ErrNotFound
	}
	return *request, nil
}

func (s *Service) List(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (domain.ListResponse, error) {
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return domain.ListResponse{}, &domain.ValidationError{Field: "page_token", Message: "is malformed"}
	}
	limit := page.Limit()

	rows, err := s.repo.List(ctx, s.db, accountID, snowflake.ID(cursor), limit+1)
	if err != nil {
		return domain.ListResponse{}, err
	}
	rows, info := pagination.Page(rows, limit, func(r domain.Request) int64 { return int64(r.ID) })
	return domain.ListResponse{PageInfo: info, Generations: rows}, nil
}

// RecoverStale settles requests abandoned by a crash between debit and
// completion. Their unfinished areas fail as interrupted, and any failed area
// is refunded once. Requests still running in this process are skipped.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Time) (domain.RecoveryReport, error) {
	var report domain.RecoveryReport
	log := obslogger.WithContext(ctx, s.log)

	stale, err := s.repo.FindStale(ctx, s.db, olderThan, recoveryBatch)
	if err != nil {
		return report, fmt.Errorf("find stale generations: %w", err)
	}
	for _, request := range stale {
		if s.isInflight(request.ID) {
			continue
		}
		for _, area := range request.Areas {
			if area.Status == domain.AreaCompleted || area.Status == domain.AreaFailed {
				continue
			}
			failed, err := s.repo.FailArea(ctx, s.db, area.ID, domain.FailureInterrupted, "processing was interrupted", s.clock.Now())
			if err != nil {
				return report, err
			}
			if !failed {
				continue
			}
			report.Interrupted++
			if s.refund(ctx, request, area.ID, domain.FailureInterrupted) {
				report.Refunded++
			}
		}
	}

	pending, err := s.repo.FindUnrefundedFailures(ctx, s.db, olderThan, recoveryBatch)
	if err != nil {
		return report, fmt.Errorf("find unrefunded failures: %w", err)
	}
	settle := make(map[snowflake.ID]domain.Request, len(stale)+len(pending))
	for _, request := range stale {
		if !s.isInflight(request.ID) {
			settle[request.ID] = request
		}
	}
	for _, request := range pending {
		if s.isInflight(request.ID) {
			continue
		}
		settle[request.ID] = request
		for _, area := range request.Areas {
			if area.Status != domain.AreaFailed || area.RefundedAt != nil {
				continue
			}
			if s.refund(ctx, request, area.ID, firstNonEmpty(area.ErrorCode, domain.FailureInterrupted)) {
				report.Refunded++
			}
		}
	}

	for _, request := range settle {
		s.finalize(ctx, request)
		report.Finalized++
	}

	if report != (domain.RecoveryReport{}) {
		log.Warn("recovered stale generations",
			zap.Int("interrupted", report.Interrupted),
			zap.Int("refunded", report.Refunded),
			zap.Int("finalized", report.Finalized),
		)
	}
	return report, nil
}

// Drain stops accepting submissions and waits for running dispatches.
func (s *Service) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) track(id snowflake.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight[id] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Service) untrack(id snowflake.ID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Service) isInflight(id snowflake.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

func (s *Service) publish(ctx context.Context, eventType string, request domain.Request) {
	areas := make([]map[string]any, 0, len(request.Areas))
	for _, area := range request.Areas {
		areas = append(areas, map[string]any{
			"area_id":   area.ID.String(),
			"area_type": string(area.AreaType),
			"status":    string(area.Status),
		})
	}
	if err := s.events.Publish(ctx, events.Event{
		Type: eventType,
		Key:  request.AccountID.String(),
		Payload: map[string]any{
			"generation_id":  request.ID.String(),
			"status":         string(request.Status),
			"funding_source": request.FundingSource.String(),
			"units_debited":  request.UnitsDebited,
			"units_refunded": request.UnitsRefunded,
			"areas":          areas,
		},
		OccurredAt: s.clock.Now(),
	}); err != nil {
		s.log.Warn("failed to publish generation event", zap.Error(err))
	}
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ domain.Service = (*Service)(nil)
