package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/venuescout/pkg/models"
)

const meterName = "github.com/thebtf/venuescout/internal/engine"

type engineMetrics struct {
	feedback         metric.Int64Counter
	promotions       metric.Int64Counter
	skipped          metric.Int64Counter
	vocabularyGrowth metric.Int64Counter
	scored           metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	var m engineMetrics
	var err error
	if m.feedback, err = meter.Int64Counter("venuescout.feedback.events",
		metric.WithDescription("Feedback events applied to affinity profiles")); err != nil {
		return nil, err
	}
	if m.promotions, err = meter.Int64Counter("venuescout.tags.promoted",
		metric.WithDescription("Tags promoted onto venues by quorum")); err != nil {
		return nil, err
	}
	if m.skipped, err = meter.Int64Counter("venuescout.scores.skipped",
		metric.WithDescription("Candidates not rescored because the user gave explicit feedback")); err != nil {
		return nil, err
	}
	if m.vocabularyGrowth, err = meter.Int64Counter("venuescout.vocabulary.added",
		metric.WithDescription("Tags added to the shared vocabulary")); err != nil {
		return nil, err
	}
	if m.scored, err = meter.Int64Counter("venuescout.scores.computed",
		metric.WithDescription("Score records written by the generation path")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *engineMetrics) recordFeedback(ctx context.Context, label models.FeedbackLabel) {
	m.feedback.Add(ctx, 1, metric.WithAttributes(attribute.String("label", string(label))))
}
