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

	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
)

const recentItemsLimit = 10

// PassportStatus is the full picture of one passport for status consumers:
// the record itself, the per-factor confidence breakdown, recent queue
// items and business events, plus informational guidance keyed by the
// current phase. The estimate is best effort and carries no guarantee.
type PassportStatus struct {
	Passport               *model.Passport       `json:"passport"`
	ConfidenceBreakdown    map[string]float64    `json:"confidence_breakdown"`
	RecentQueueItems       []model.QueueItem     `json:"recent_queue_items"`
	RecentBusinessEvents   []model.BusinessEvent `json:"recent_business_events"`
	EstimatedRemainingMins int                   `json:"estimated_remaining_mins"`
	NextActions            []string              `json:"next_actions"`
}

// phaseGuidance carries the informational lookup returned with a status.
var phaseGuidance = map[string]struct {
	remainingMins int
	nextActions   []string
}{
	model.PhaseIntake:         {10, []string{"awaiting identification dispatch"}},
	model.PhaseIdentification: {8, []string{"scoring against supplier registry"}},
	model.PhaseManualReview:   {0, []string{"review extracted signals", "confirm or correct supplier", "resubmit for identification"}},
	model.PhaseExtraction:     {6, []string{"extracting line items"}},
	model.PhaseProcessing:     {4, []string{"validating against business rules"}},
	model.PhaseIntegration:    {2, []string{"writing business records"}},
	model.PhaseCompleted:      {0, nil},
	model.PhaseFailed:         {0, []string{"inspect business events", "recapture document"}},
}

// GetStatus assembles the status view for one passport.
func (d *Docbridge) GetStatus(ctx context.Context, passportID string) (*PassportStatus, error) {
	ctx, span := tracer.Start(ctx, "Getting Passport Status")
	defer span.End()

	passport, err := d.datasource.GetPassport(ctx, passportID)
	if err != nil {
		return nil, err
	}

	status := &PassportStatus{
		Passport:            passport,
		ConfidenceBreakdown: map[string]float64{},
	}

	breakdown, err := d.datasource.GetConfidenceBreakdown(ctx, passportID)
	if err != nil && !apierror.HasCode(err, apierror.ErrNotFound) {
		return nil, logAndRecordError(span, "failed to load confidence breakdown: ", err)
	}
	if breakdown != nil {
		status.ConfidenceBreakdown = breakdown.Factors
	}

	items, err := d.datasource.GetQueueItemsForPassport(ctx, passportID, recentItemsLimit)
	if err != nil {
		return nil, logAndRecordError(span, "failed to load queue items: ", err)
	}
	status.RecentQueueItems = items

	events := passport.BusinessEvents
	if len(events) > recentItemsLimit {
		events = events[len(events)-recentItemsLimit:]
	}
	status.RecentBusinessEvents = events

	guidance := phaseGuidance[passport.CurrentPhase]
	status.EstimatedRemainingMins = guidance.remainingMins
	status.NextActions = guidance.nextActions
	return status, nil
}
