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
	"encoding/json"
	"fmt"

	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
)

// stageAdvance maps the work stages after identification to the lifecycle
// edge they drive and the stage queued next. Integration is last; it
// completes the passport and queues nothing.
var stageAdvance = map[string]struct {
	fromPhase string
	toPhase   string
	nextStage string
}{
	model.StageExtraction:  {model.PhaseExtraction, model.PhaseProcessing, model.StageProcessing},
	model.StageProcessing:  {model.PhaseProcessing, model.PhaseIntegration, model.StageIntegration},
	model.StageIntegration: {model.PhaseIntegration, model.PhaseCompleted, ""},
}

// ExecuteStageItem runs one dispatched stage task end to end: claim the
// durable item, run the stage, then mark it done or route the error through
// the retry policy. Errors a retry cannot help (bad input, illegal edge,
// unknown ids) fail the attempt without being returned to asynq, so the
// task is not redelivered on top of our own retry bookkeeping.
func (d *Docbridge) ExecuteStageItem(ctx context.Context, payload StageItemPayload) error {
	ctx, span := tracer.Start(ctx, "Executing Stage Item")
	defer span.End()

	if err := d.ClaimStageItem(ctx, payload.ItemID); err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) {
			// Another worker holds it, or a stale redelivery arrived
			// after completion. Nothing to do.
			return nil
		}
		return err
	}

	if err := d.runStage(ctx, payload); err != nil {
		if _, failErr := d.FailStageItem(ctx, payload.ItemID, err.Error()); failErr != nil {
			return failErr
		}
		return nil
	}
	return d.CompleteStageItem(ctx, payload.ItemID)
}

func (d *Docbridge) runStage(ctx context.Context, payload StageItemPayload) error {
	if payload.StageName == model.StageIdentification {
		signals, err := d.stageSignals(ctx, payload.ItemID)
		if err != nil {
			return err
		}
		_, err = d.Identify(ctx, payload.PassportID, signals)
		return err
	}

	advance, ok := stageAdvance[payload.StageName]
	if !ok {
		return apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("unknown stage %s", payload.StageName), nil)
	}

	_, err := d.Transition(ctx, payload.PassportID, advance.fromPhase, advance.toPhase, map[string]interface{}{
		"stage": payload.StageName,
	})
	if err != nil {
		return err
	}

	if advance.nextStage != "" {
		if _, err := d.EnqueueStage(ctx, payload.PassportID, advance.nextStage, nil, model.DefaultPriority); err != nil {
			return err
		}
	}
	return nil
}

// stageSignals recovers the extracted signals stashed in the queue item's
// processing context at enqueue time.
func (d *Docbridge) stageSignals(ctx context.Context, itemID string) (model.ExtractedSignals, error) {
	var signals model.ExtractedSignals

	item, err := d.datasource.GetQueueItem(ctx, itemID)
	if err != nil {
		return signals, err
	}
	raw, ok := item.ProcessingContext["signals"]
	if !ok {
		return signals, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("queue item %s carries no signals", itemID), nil)
	}
	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return signals, apierror.NewAPIError(apierror.ErrInternalServer, "failed to re-encode signals", err)
	}
	if err := json.Unmarshal(rawJSON, &signals); err != nil {
		return signals, apierror.NewAPIError(apierror.ErrInternalServer, "failed to decode signals", err)
	}
	return signals, nil
}
