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

	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/internal/apierror"
	"github.com/docbridge/docbridge/model"
)

// AccuracyGate is the minimum identification accuracy, in percent, the
// self-test battery must measure for the pipeline to report healthy.
const AccuracyGate = 90.0

// SelfTestCase is one executed check in the battery.
type SelfTestCase struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details,omitempty"`
}

// SelfTestReport summarizes a battery run. Accuracy is measured over the
// identification fixtures only; Healthy requires every case to pass and
// the accuracy to clear the gate.
type SelfTestReport struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Accuracy float64        `json:"accuracy"`
	Healthy  bool           `json:"healthy"`
	Cases    []SelfTestCase `json:"cases"`
}

type identificationFixture struct {
	name           string
	signals        model.ExtractedSignals
	expectSupplier string
	expectNoMatch  bool
}

func fixtureSuppliers() []model.Supplier {
	return []model.Supplier{
		{SupplierID: "fixture_acme", Name: "Acme Industrial Supplies", Code: "ACME-001", Email: "billing@acme.example", Phone: "+1 555 0100"},
		{SupplierID: "fixture_nordwind", Name: "Nordwind Logistics", Code: "NORD-77", Email: "invoice@nordwind.example", Phone: "+49 40 5550"},
		{SupplierID: "fixture_helix", Name: "Helix Laboratory Equipment", Code: "HLX-9", Email: "accounts@helix.example", Phone: "+44 20 5551"},
	}
}

func identificationFixtures() []identificationFixture {
	return []identificationFixture{
		{
			name:           "exact name with code and email",
			signals:        model.ExtractedSignals{Text: "Invoice from Acme Industrial Supplies, ref ACME-001, contact billing@acme.example"},
			expectSupplier: "fixture_acme",
		},
		{
			name:           "code only",
			signals:        model.ExtractedSignals{Text: "Shipment manifest NORD-77 attached"},
			expectSupplier: "fixture_nordwind",
		},
		{
			name:           "email only",
			signals:        model.ExtractedSignals{Text: "Please remit queries to accounts@helix.example"},
			expectSupplier: "fixture_helix",
		},
		{
			name:           "fuzzy misspelled name",
			signals:        model.ExtractedSignals{Text: "Delivery note from Nordwind Logistcs for warehouse 4"},
			expectSupplier: "fixture_nordwind",
		},
		{
			name:          "no matching factors",
			signals:       model.ExtractedSignals{Text: "Handwritten receipt, no letterhead, total 45.00"},
			expectNoMatch: true,
		},
	}
}

// RunSelfTest executes the fixed fixture battery synchronously: scorer
// accuracy over the five identification fixtures, transition graph
// checks, confidence bound checks, input validation checks, and a store
// round trip driving one disposable passport through creation and
// abandonment. The identification accuracy it measures is the pipeline's
// primary correctness signal.
func (d *Docbridge) RunSelfTest(ctx context.Context) (*SelfTestReport, error) {
	ctx, span := tracer.Start(ctx, "Running Self Test")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	report := &SelfTestReport{}
	correct := 0
	fixtures := identificationFixtures()
	suppliers := fixtureSuppliers()

	for _, fixture := range fixtures {
		best, scores := BestSupplierScore(fixture.signals, suppliers, cfg.Pipeline)
		caseResult := SelfTestCase{Name: "identification: " + fixture.name}
		switch {
		case fixture.expectNoMatch:
			caseResult.Passed = best == -1 || scores[best].Confidence == 0
		case best >= 0 && scores[best].SupplierID == fixture.expectSupplier:
			caseResult.Passed = true
		default:
			caseResult.Details = fmt.Sprintf("expected %s", fixture.expectSupplier)
		}
		if caseResult.Passed {
			correct++
		}
		report.Cases = append(report.Cases, caseResult)
	}
	report.Accuracy = float64(correct) / float64(len(fixtures)) * 100

	report.Cases = append(report.Cases, d.transitionGraphCases()...)
	report.Cases = append(report.Cases, scorerBoundCases(cfg.Pipeline)...)
	report.Cases = append(report.Cases, d.validationCases(ctx)...)
	report.Cases = append(report.Cases, d.lifecycleCase(ctx))

	for _, c := range report.Cases {
		report.Total++
		if c.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	report.Healthy = report.Failed == 0 && report.Accuracy >= AccuracyGate
	return report, nil
}

func (d *Docbridge) transitionGraphCases() []SelfTestCase {
	legal := [][2]string{
		{model.PhaseIntake, model.PhaseIdentification},
		{model.PhaseIdentification, model.PhaseExtraction},
		{model.PhaseIdentification, model.PhaseManualReview},
		{model.PhaseManualReview, model.PhaseIdentification},
		{model.PhaseExtraction, model.PhaseProcessing},
		{model.PhaseProcessing, model.PhaseIntegration},
		{model.PhaseIntegration, model.PhaseCompleted},
		{model.PhaseProcessing, model.PhaseFailed},
	}
	illegal := [][2]string{
		{model.PhaseIntake, model.PhaseCompleted},
		{model.PhaseCompleted, model.PhaseFailed},
		{model.PhaseFailed, model.PhaseIntake},
		{model.PhaseExtraction, model.PhaseIdentification},
	}

	cases := []SelfTestCase{}
	legalOk := true
	for _, edge := range legal {
		if !isLegalTransition(edge[0], edge[1]) {
			legalOk = false
		}
	}
	cases = append(cases, SelfTestCase{Name: "transitions: legal edges accepted", Passed: legalOk})

	illegalOk := true
	for _, edge := range illegal {
		if isLegalTransition(edge[0], edge[1]) {
			illegalOk = false
		}
	}
	cases = append(cases, SelfTestCase{Name: "transitions: illegal edges rejected", Passed: illegalOk})
	return cases
}

func scorerBoundCases(conf config.PipelineConfig) []SelfTestCase {
	supplier := model.Supplier{SupplierID: "fixture_acme", Name: "Acme Industrial Supplies", Code: "ACME-001", Email: "billing@acme.example", Phone: "+1 555 0100"}
	full := ScoreSupplier(model.ExtractedSignals{
		Text: "Acme Industrial Supplies ACME-001 billing@acme.example call 15550100",
	}, &supplier, conf)
	none := ScoreSupplier(model.ExtractedSignals{Text: "nothing relevant"}, &supplier, conf)

	expected := conf.NameWeight + conf.CodeWeight + conf.EmailWeight + conf.PhoneWeight
	if expected > 1.0 {
		expected = 1.0
	}
	return []SelfTestCase{
		{Name: "scorer: all factors sum to configured weights", Passed: almostEqual(full.Confidence, expected)},
		{Name: "scorer: confidence stays within [0,1]", Passed: full.Confidence <= 1.0 && none.Confidence == 0},
	}
}

func (d *Docbridge) validationCases(ctx context.Context) []SelfTestCase {
	_, missingID := d.CreatePassport(ctx, &model.CaptureDocument{
		ExtractedSignals: model.ExtractedSignals{Text: "some text"},
	})
	_, missingSignals := d.CreatePassport(ctx, &model.CaptureDocument{DocumentID: "selftest_missing_signals"})

	return []SelfTestCase{
		{Name: "validation: missing document id rejected", Passed: apierror.HasCode(missingID, apierror.ErrInvalidInput)},
		{Name: "validation: missing signals rejected", Passed: apierror.HasCode(missingSignals, apierror.ErrInvalidInput)},
	}
}

// lifecycleCase drives one disposable passport through creation, a fetch
// round trip, a confidence update, and abandonment.
func (d *Docbridge) lifecycleCase(ctx context.Context) SelfTestCase {
	result := SelfTestCase{Name: "lifecycle: create, fetch, score, abandon"}

	doc := &model.CaptureDocument{
		DocumentID:       model.GenerateUUIDWithSuffix("selftest"),
		DocumentType:     "self_test",
		ExtractedSignals: model.ExtractedSignals{Text: "self test fixture document"},
	}
	passport, err := d.CreatePassport(ctx, doc)
	if err != nil {
		result.Details = fmt.Sprintf("create failed: %v", err)
		return result
	}

	fetched, err := d.GetPassport(ctx, passport.PassportID)
	if err != nil || fetched.CurrentPhase != model.PhaseIntake || fetched.Status != model.StatusInProgress || fetched.ConfidenceScore != 0 {
		result.Details = "create-then-fetch did not return a fresh intake passport"
		return result
	}

	if err := d.datasource.UpdatePassportConfidence(ctx, passport.PassportID, 0.5, map[string]float64{"self_test": 0.5}); err != nil {
		result.Details = fmt.Sprintf("confidence update failed: %v", err)
		return result
	}

	abandoned, err := d.AbandonPassport(ctx, passport.PassportID, "self test cleanup")
	if err != nil || abandoned.Status != model.StatusFailed {
		result.Details = "abandon did not terminate the passport"
		return result
	}

	result.Passed = true
	return result
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
