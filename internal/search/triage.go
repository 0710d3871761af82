package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/quickref/internal/config"
	"github.com/hyperjump/quickref/internal/models"
	"github.com/hyperjump/quickref/internal/recommend"
	"github.com/hyperjump/quickref/internal/vector"
	"github.com/hyperjump/quickref/pkg/utils"
)

// ErrTrainingDisabled is returned when a query asks to train but no trainer is configured.
var ErrTrainingDisabled = errors.New("training is disabled")

// Trainer persists submitted issues as reference records.
type Trainer interface {
	// Ingest appends rec to the store and the index. indexed is false when the
	// record was stored but could not be embedded.
	Ingest(ctx context.Context, rec *models.IssueRecord) (indexed bool, err error)
	IngestBatch(ctx context.Context, recs []*models.IssueRecord) (*models.IngestSummary, error)
}

// Triager answers triage queries: optional training, reference lookup, assignee and actions.
type Triager struct {
	finder      *Finder
	recommender recommend.Recommender
	trainer     Trainer
	config      *config.FinderConfig
	logger      *zap.Logger
}

// TriagerOption configures a Triager.
type TriagerOption func(*Triager)

// WithTriageLogger sets a logger for triage events.
func WithTriageLogger(l *zap.Logger) TriagerOption {
	return func(t *Triager) { t.logger = l }
}

// NewTriager creates a triager. trainer may be nil when training is disabled.
func NewTriager(finder *Finder, recommender recommend.Recommender, trainer Trainer, cfg *config.FinderConfig, opts ...TriagerOption) *Triager {
	t := &Triager{
		finder:      finder,
		recommender: recommender,
		trainer:     trainer,
		config:      cfg,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.recommender == nil {
		t.recommender = recommend.NewFirstOccurrence()
	}
	t.logger = utils.OrNop(t.logger)
	return t
}

// TrainingEnabled reports whether Train requests are honoured.
func (t *Triager) TrainingEnabled() bool {
	return t.trainer != nil
}

// Triage runs one query. A stored record with the input's own key never matches it.
// With Train set the issue is first stored and indexed, then excluded the same way.
func (t *Triager) Triage(ctx context.Context, q *models.TriageQuery) (*models.TriageResult, error) {
	start := time.Now()
	if err := ProcessQuery(q, t.config); err != nil {
		return nil, err
	}

	inputKey := q.Issue.RecordID()
	exclude := []string{q.ExcludeID, inputKey}
	trained := false
	if q.Train {
		if t.trainer == nil {
			return nil, ErrTrainingDisabled
		}
		rec, err := q.Issue.ToRecord()
		if err != nil {
			return nil, err
		}
		if _, err := t.trainer.Ingest(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to train on %s: %w", rec.ID, err)
		}
		inputKey, trained = rec.ID, true
		exclude = append(exclude, rec.ID)
	}

	result, err := t.lookup(ctx, &q.Issue, q.TopK, *q.Threshold, exclude...)
	if err != nil {
		return nil, err
	}
	result.InputKey = inputKey
	result.Trained = trained
	result.QueryTime = time.Since(start).Milliseconds()
	return result, nil
}

// TriageBatch triages every input with the same parameters. Each input is excluded
// from its own matches; with train set, all valid inputs are ingested first as one
// batch. Invalid inputs are counted in the summary and get no result.
func (t *Triager) TriageBatch(ctx context.Context, inputs []models.IssueInput, topK int, threshold *float64, train bool) ([]*models.TriageResult, *models.IngestSummary, error) {
	if train && t.trainer == nil {
		return nil, nil, ErrTrainingDisabled
	}

	type pending struct {
		input models.IssueInput
		id    string
	}
	valid := make([]pending, 0, len(inputs))
	recs := make([]*models.IssueRecord, 0, len(inputs))
	summary := &models.IngestSummary{}
	for _, in := range inputs {
		rec, err := in.ToRecord()
		if err != nil {
			summary.Invalid++
			continue
		}
		valid = append(valid, pending{input: in, id: rec.ID})
		recs = append(recs, rec)
	}

	if train {
		trainSummary, err := t.trainer.IngestBatch(ctx, recs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to train batch: %w", err)
		}
		trainSummary.Invalid += summary.Invalid
		summary = trainSummary
	}

	results := make([]*models.TriageResult, 0, len(valid))
	for _, p := range valid {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		start := time.Now()
		q := &models.TriageQuery{Issue: p.input, TopK: topK, Threshold: threshold}
		if err := ProcessQuery(q, t.config); err != nil {
			return nil, nil, err
		}
		res, err := t.lookup(ctx, &q.Issue, q.TopK, *q.Threshold, p.input.RecordID(), p.id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to triage %s: %w", p.id, err)
		}
		res.InputKey = p.id
		res.Trained = train
		res.QueryTime = time.Since(start).Milliseconds()
		results = append(results, res)
	}
	t.logger.Info("Batch triaged",
		zap.Int("inputs", len(inputs)),
		zap.Int("results", len(results)),
		zap.Bool("train", train))
	return results, summary, nil
}

func (t *Triager) lookup(ctx context.Context, in *models.IssueInput, k int, threshold float64, exclude ...string) (*models.TriageResult, error) {
	found, err := t.finder.Find(ctx, in.TextFields(), k, threshold, ExcludeID(exclude...))
	if err != nil && !errors.Is(err, vector.ErrIndexNotReady) {
		return nil, err
	}
	return &models.TriageResult{
		InputSummary:       models.EmbeddingText([]models.TextField{{Name: models.FieldSummary, Value: in.Summary}}),
		Matches:            found.Matches,
		PotentialAssignee:  found.PotentialAssignee,
		RecommendedActions: t.recommender.Recommend(found.Matches),
		IndexReady:         found.IndexReady,
	}, nil
}
