package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"estatecrm/internal/model"
	"estatecrm/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	deals      store.DealStore
	stages     store.StageStore
	pipelines  store.PipelineStore
	history    store.HistoryStore
	properties store.PropertyDirectory
	now        func() time.Time
	logger     *zap.Logger
}

func NewService(st store.Store, now func() time.Time, logger *zap.Logger) *Service {
	return &Service{
		deals:      st,
		stages:     st,
		pipelines:  st,
		history:    st,
		properties: st,
		now:        now,
		logger:     logger,
	}
}

func (s *Service) pipelineDeals(ctx context.Context, pipelineID uuid.UUID) ([]model.Deal, error) {
	if _, err := s.pipelines.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}
	deals, err := s.deals.ListDeals(ctx, model.DealFilter{PipelineID: &pipelineID})
	if err != nil {
		return nil, fmt.Errorf("list deals of %s: %w", pipelineID, err)
	}
	return deals, nil
}

// DealAnalytics summarises the deals of a pipeline.
//
// AverageDealAmount divides the amount summed over all deals by the number of
// active deals, so closed deals raise the average.
func (s *Service) DealAnalytics(ctx context.Context, pipelineID uuid.UUID) (*model.DealAnalytics, error) {
	deals, err := s.pipelineDeals(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	res := &model.DealAnalytics{
		PipelineID:        pipelineID,
		TotalDeals:        len(deals),
		TotalDealAmount:   decimal.Zero,
		AverageDealAmount: decimal.Zero,
		DurationSource:    model.DurationFromClosedDeals,
	}

	var closedSpan time.Duration
	closedCount := 0
	for _, d := range deals {
		if d.IsActive {
			res.ActiveDeals++
		} else {
			res.CompletedDeals++
			if d.ClosedAt != nil && d.ClosedAt.After(d.CreatedAt) {
				closedSpan += d.ClosedAt.Sub(d.CreatedAt)
				closedCount++
			}
		}
		if d.Amount != nil {
			res.TotalDealAmount = res.TotalDealAmount.Add(*d.Amount)
		}
	}

	if res.ActiveDeals > 0 {
		res.AverageDealAmount = res.TotalDealAmount.Div(decimal.NewFromInt(int64(res.ActiveDeals))).Round(2)
	}
	if closedCount > 0 {
		res.AverageDealDuration = closedSpan / time.Duration(closedCount)
	}

	s.logger.Debug("Deal analytics computed",
		zap.String("pipeline_id", pipelineID.String()),
		zap.Int("total", res.TotalDeals),
		zap.Int("active", res.ActiveDeals),
	)
	return res, nil
}

// StageAnalytics reports, per stage in order, the active deals in it, how
// many of them are overdue and the historical average time spent there.
func (s *Service) StageAnalytics(ctx context.Context, pipelineID uuid.UUID) ([]model.StageAnalytics, error) {
	deals, err := s.pipelineDeals(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	stages, err := s.stages.ListStagesByPipeline(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list stages of %s: %w", pipelineID, err)
	}

	now := s.now()
	type counts struct{ total, overdue int }
	byStage := make(map[uuid.UUID]*counts, len(stages))
	for _, d := range deals {
		if !d.IsActive {
			continue
		}
		c, ok := byStage[d.CurrentStageID]
		if !ok {
			c = &counts{}
			byStage[d.CurrentStageID] = c
		}
		c.total++
		if d.IsOverdue(now) {
			c.overdue++
		}
	}

	out := make([]model.StageAnalytics, 0, len(stages))
	for _, st := range stages {
		avg, err := s.history.AverageTimeInStage(ctx, st.ID)
		if err != nil {
			return nil, fmt.Errorf("average time in stage %s: %w", st.ID, err)
		}
		row := model.StageAnalytics{
			StageID:            st.ID,
			StageName:          st.Name,
			Order:              st.Order,
			AverageTimeInStage: avg,
		}
		if c, ok := byStage[st.ID]; ok {
			row.DealCount = c.total
			row.OverdueDeals = c.overdue
		}
		out = append(out, row)
	}
	return out, nil
}

// PropertyTypeAnalytics distributes the pipeline's deals over property
// types. Linked properties are used when any deal has one that still exists;
// otherwise deal titles are classified heuristically. The Source field of
// every row tells which path produced it.
func (s *Service) PropertyTypeAnalytics(ctx context.Context, pipelineID uuid.UUID) ([]model.PropertyTypeAnalytics, error) {
	deals, err := s.pipelineDeals(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if len(deals) == 0 {
		return []model.PropertyTypeAnalytics{}, nil
	}

	ids := make([]uuid.UUID, 0, len(deals))
	for _, d := range deals {
		if d.PropertyID != nil {
			ids = append(ids, *d.PropertyID)
		}
	}
	types := map[uuid.UUID]string{}
	if len(ids) > 0 {
		types, err = s.properties.PropertyTypes(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve property types: %w", err)
		}
	}

	if len(types) == 0 {
		s.logger.Info("No linked properties, classifying deal titles",
			zap.String("pipeline_id", pipelineID.String()),
			zap.Int("deals", len(deals)),
		)
		return byTitle(deals), nil
	}
	return byProperty(deals, types), nil
}

func byProperty(deals []model.Deal, types map[uuid.UUID]string) []model.PropertyTypeAnalytics {
	counts := map[string]int{}
	unlinked := 0
	for _, d := range deals {
		if d.PropertyID == nil {
			unlinked++
			continue
		}
		t, ok := types[*d.PropertyID]
		if !ok {
			unlinked++
			continue
		}
		counts[t]++
	}

	total := len(deals)
	out := make([]model.PropertyTypeAnalytics, 0, len(counts)+1)
	for t, n := range counts {
		out = append(out, row(t, n, total, model.SourceProperty))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DealCount != out[j].DealCount {
			return out[i].DealCount > out[j].DealCount
		}
		return out[i].PropertyType < out[j].PropertyType
	})
	if unlinked > 0 {
		out = append(out, row(TypeNone, unlinked, total, model.SourceProperty))
	}
	return out
}

func byTitle(deals []model.Deal) []model.PropertyTypeAnalytics {
	counts := map[string]int{}
	for _, d := range deals {
		counts[ClassifyTitle(d.Title)]++
	}
	out := make([]model.PropertyTypeAnalytics, 0, len(counts))
	for _, t := range titleOrder {
		if n := counts[t]; n > 0 {
			out = append(out, row(t, n, len(deals), model.SourceTitleHeuristic))
		}
	}
	return out
}

func row(propertyType string, n, total int, source string) model.PropertyTypeAnalytics {
	return model.PropertyTypeAnalytics{
		PropertyType: propertyType,
		DisplayName:  DisplayName(propertyType),
		DealCount:    n,
		Percentage:   percentage(n, total),
		Source:       source,
	}
}

// percentage rounds to one decimal place.
func percentage(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
