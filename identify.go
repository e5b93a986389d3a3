/*
Copyright 2024 Docbridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package docbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
)

// IdentificationResult reports the outcome of one identification run. Every
// candidate's score is included, not only the winner, so review UIs can
// show near-misses next to the decision.
type IdentificationResult struct {
	Passport   *model.Passport       `json:"passport"`
	Identified bool                  `json:"identified"`
	Threshold  float64               `json:"threshold"`
	BestScore  float64               `json:"best_score"`
	Scores     []model.SupplierScore `json:"scores"`
}

// Identify scores a passport's extracted signals against every enabled
// supplier and routes the passport by the outcome. A best score at or above
// the identification threshold links the supplier and advances the passport
// to extraction; anything below parks it in manual review with
// status exception. A passport sitting in manual review may be re-identified
// after manual feedback, which routes it back through identification first.
func (d *Docbridge) Identify(ctx context.Context, passportID string, signals model.ExtractedSignals) (*IdentificationResult, error) {
	ctx, span := tracer.Start(ctx, "Identifying Supplier")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if signals.IsEmpty() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "extracted_signals is required", nil)
	}

	passport, err := d.datasource.GetPassport(ctx, passportID)
	if err != nil {
		return nil, err
	}

	switch passport.CurrentPhase {
	case model.PhaseIntake:
		passport, err = d.Transition(ctx, passportID, model.PhaseIntake, model.PhaseIdentification, map[string]interface{}{
			"stage": model.StageIdentification,
		})
		if err != nil {
			return nil, err
		}
	case model.PhaseManualReview:
		passport, err = d.resumeFromManualReview(ctx, passportID)
		if err != nil {
			return nil, err
		}
	case model.PhaseIdentification:
		// Already where it needs to be.
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidTransition, fmt.Sprintf("passport %s is in phase %s and cannot run identification", passportID, passport.CurrentPhase), nil)
	}

	suppliers, err := d.datasource.GetEnabledSuppliers(ctx)
	if err != nil {
		return nil, logAndRecordError(span, "failed to load candidate suppliers: ", err)
	}

	best, scores := BestSupplierScore(signals, suppliers, cfg.Pipeline)
	result := &IdentificationResult{
		Passport:  passport,
		Threshold: cfg.Pipeline.IdentificationThreshold,
		Scores:    scores,
	}
	if best >= 0 {
		result.BestScore = scores[best].Confidence
	}

	breakdown := map[string]float64{}
	if best >= 0 {
		breakdown = factorBreakdown(scores[best], cfg.Pipeline)
	}
	if err := d.datasource.UpdatePassportConfidence(ctx, passportID, result.BestScore, breakdown); err != nil {
		return nil, logAndRecordError(span, "failed to update confidence: ", err)
	}

	if best >= 0 && result.BestScore >= result.Threshold {
		passport, err = d.acceptIdentification(ctx, passportID, scores[best], signals)
		if err != nil {
			return nil, err
		}
		result.Identified = true
	} else {
		passport, err = d.routeToManualReview(ctx, passportID, result.BestScore, result.Threshold)
		if err != nil {
			return nil, err
		}
	}
	result.Passport = passport
	return result, nil
}

func (d *Docbridge) acceptIdentification(ctx context.Context, passportID string, winner model.SupplierScore, signals model.ExtractedSignals) (*model.Passport, error) {
	ctx, span := tracer.Start(ctx, "Accepting Identification")
	defer span.End()

	if err := d.datasource.LinkSupplier(ctx, passportID, winner.SupplierID); err != nil {
		return nil, logAndRecordError(span, "failed to link supplier: ", err)
	}

	event := model.BusinessEvent{
		Type:      model.EventSupplierIdentified,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"supplier_id":     winner.SupplierID,
			"supplier_name":   winner.SupplierName,
			"confidence":      winner.Confidence,
			"matched_factors": winner.MatchedFactors,
		},
	}
	if err := d.datasource.AppendBusinessEvent(ctx, passportID, event); err != nil {
		return nil, logAndRecordError(span, "failed to log identification event: ", err)
	}
	if err := SendWebhook(event, passportID); err != nil {
		_ = logAndRecordError(span, "failed to queue webhook: ", err)
	}

	passport, err := d.Transition(ctx, passportID, model.PhaseIdentification, model.PhaseExtraction, map[string]interface{}{
		"supplier_id": winner.SupplierID,
		"confidence":  winner.Confidence,
	})
	if err != nil {
		return nil, err
	}

	if _, err := d.EnqueueStage(ctx, passportID, model.StageExtraction, map[string]interface{}{
		"signals": signals,
	}, model.DefaultPriority); err != nil {
		return nil, logAndRecordError(span, "failed to enqueue extraction: ", err)
	}
	return passport, nil
}

func (d *Docbridge) routeToManualReview(ctx context.Context, passportID string, bestScore, threshold float64) (*model.Passport, error) {
	ctx, span := tracer.Start(ctx, "Routing To Manual Review")
	defer span.End()

	passport, err := d.Transition(ctx, passportID, model.PhaseIdentification, model.PhaseManualReview, map[string]interface{}{
		"max_confidence": bestScore,
		"threshold":      threshold,
	})
	if err != nil {
		return nil, err
	}
	if err := d.datasource.UpdatePassportStatus(ctx, passportID, model.StatusException); err != nil {
		return nil, logAndRecordError(span, "failed to set exception status: ", err)
	}
	passport.Status = model.StatusException

	event := model.BusinessEvent{
		Type:      model.EventManualReviewRequired,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"max_confidence": bestScore,
			"threshold":      threshold,
		},
	}
	if err := d.datasource.AppendBusinessEvent(ctx, passportID, event); err != nil {
		return nil, logAndRecordError(span, "failed to log manual review event: ", err)
	}
	if err := SendWebhook(event, passportID); err != nil {
		_ = logAndRecordError(span, "failed to queue webhook: ", err)
	}
	return passport, nil
}

// resumeFromManualReview moves a parked passport back into identification
// after an operator supplied feedback, restoring in_progress status and
// logging the feedback event.
func (d *Docbridge) resumeFromManualReview(ctx context.Context, passportID string) (*model.Passport, error) {
	ctx, span := tracer.Start(ctx, "Resuming From Manual Review")
	defer span.End()

	passport, err := d.Transition(ctx, passportID, model.PhaseManualReview, model.PhaseIdentification, map[string]interface{}{
		"resumed": true,
	})
	if err != nil {
		return nil, err
	}
	if err := d.datasource.UpdatePassportStatus(ctx, passportID, model.StatusInProgress); err != nil {
		return nil, logAndRecordError(span, "failed to restore in_progress status: ", err)
	}
	passport.Status = model.StatusInProgress

	event := model.BusinessEvent{
		Type:      model.EventManualFeedback,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"action": "re-identification",
		},
	}
	if err := d.datasource.AppendBusinessEvent(ctx, passportID, event); err != nil {
		return nil, logAndRecordError(span, "failed to log manual feedback event: ", err)
	}
	return passport, nil
}

func factorBreakdown(score model.SupplierScore, conf config.PipelineConfig) map[string]float64 {
	weights := map[string]float64{
		"name_exact": conf.NameWeight,
		"name_fuzzy": conf.FuzzyNameWeight,
		"code":       conf.CodeWeight,
		"email":      conf.EmailWeight,
		"phone":      conf.PhoneWeight,
	}
	breakdown := map[string]float64{}
	for _, factor := range score.MatchedFactors {
		breakdown[factor] = weights[factor]
	}
	return breakdown
}
