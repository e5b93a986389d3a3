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

	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
)

// phaseEdges is the legal lifecycle graph. Any non-terminal phase may
// additionally move to failed; that escape edge is handled in
// isLegalTransition rather than listed per phase.
var phaseEdges = map[string][]string{
	model.PhaseIntake:         {model.PhaseIdentification},
	model.PhaseIdentification: {model.PhaseExtraction, model.PhaseManualReview},
	model.PhaseManualReview:   {model.PhaseIdentification},
	model.PhaseExtraction:     {model.PhaseProcessing},
	model.PhaseProcessing:     {model.PhaseIntegration},
	model.PhaseIntegration:    {model.PhaseCompleted},
}

func isLegalTransition(fromPhase, toPhase string) bool {
	if toPhase == model.PhaseFailed {
		return fromPhase != model.PhaseCompleted && fromPhase != model.PhaseFailed
	}
	for _, next := range phaseEdges[fromPhase] {
		if next == toPhase {
			return true
		}
	}
	return false
}

// Transition moves a passport along one edge of the lifecycle graph.
// The fromPhase argument is an optimistic precondition: the store only
// applies the move if the passport is still in that phase, so of two
// concurrent attempts exactly one succeeds and the loser gets
// ErrPhaseMismatch with no mutation. An edge not in the graph fails with
// ErrInvalidTransition before touching the store.
func (d *Docbridge) Transition(ctx context.Context, passportID, fromPhase, toPhase string, transitionContext map[string]interface{}) (*model.Passport, error) {
	ctx, span := tracer.Start(ctx, "Transitioning Passport Phase")
	defer span.End()

	if !isLegalTransition(fromPhase, toPhase) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidTransition, fmt.Sprintf("no edge from %s to %s", fromPhase, toPhase), nil)
	}

	entry := model.PhaseHistoryEntry{
		From:      fromPhase,
		To:        toPhase,
		Timestamp: time.Now(),
		Context:   transitionContext,
	}
	if err := d.datasource.AppendPhaseHistory(ctx, passportID, fromPhase, entry); err != nil {
		return nil, err
	}

	event := model.BusinessEvent{
		Type:      model.EventPhaseTransition,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"from": fromPhase,
			"to":   toPhase,
		},
	}
	if err := d.datasource.AppendBusinessEvent(ctx, passportID, event); err != nil {
		return nil, logAndRecordError(span, "failed to log phase transition event: ", err)
	}
	if err := SendWebhook(event, passportID); err != nil {
		_ = logAndRecordError(span, "failed to queue webhook: ", err)
	}

	switch toPhase {
	case model.PhaseCompleted:
		if err := d.datasource.UpdatePassportStatus(ctx, passportID, model.StatusCompleted); err != nil {
			return nil, logAndRecordError(span, "failed to complete passport: ", err)
		}
	case model.PhaseFailed:
		if err := d.datasource.UpdatePassportStatus(ctx, passportID, model.StatusFailed); err != nil {
			return nil, logAndRecordError(span, "failed to fail passport: ", err)
		}
	}

	return d.datasource.GetPassport(ctx, passportID)
}
