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
	"testing"

	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/model"
	"github.com/stretchr/testify/assert"
)

func pipelineConf() config.PipelineConfig {
	conf := &config.Configuration{}
	config.MockConfig(conf)
	return conf.Pipeline
}

func TestScoreSupplier_AllFactorsMatch(t *testing.T) {
	conf := pipelineConf()
	supplier := model.Supplier{
		SupplierID: "sup_1",
		Name:       "Acme Industrial Supplies",
		Code:       "ACME-001",
		Email:      "billing@acme.example",
		Phone:      "+1 555 0100",
	}
	signals := model.ExtractedSignals{
		Text: "Invoice Acme Industrial Supplies ACME-001 billing@acme.example tel 1-555-0100",
	}

	score := ScoreSupplier(signals, &supplier, conf)
	assert.InDelta(t, conf.NameWeight+conf.CodeWeight+conf.EmailWeight+conf.PhoneWeight, score.Confidence, 1e-9)
	assert.ElementsMatch(t, []string{"name_exact", "code", "email", "phone"}, score.MatchedFactors)
}

func TestScoreSupplier_NoFactorsMatch(t *testing.T) {
	conf := pipelineConf()
	supplier := model.Supplier{SupplierID: "sup_1", Name: "Acme Industrial Supplies", Code: "ACME-001"}
	signals := model.ExtractedSignals{Text: "handwritten receipt with no letterhead"}

	score := ScoreSupplier(signals, &supplier, conf)
	assert.Equal(t, 0.0, score.Confidence)
	assert.Empty(t, score.MatchedFactors)
}

func TestScoreSupplier_FuzzyExclusiveWithExact(t *testing.T) {
	conf := pipelineConf()
	supplier := model.Supplier{SupplierID: "sup_1", Name: "Nordwind Logistics", Code: "NORD-77"}

	exact := ScoreSupplier(model.ExtractedSignals{Text: "delivery from nordwind logistics"}, &supplier, conf)
	assert.InDelta(t, conf.NameWeight, exact.Confidence, 1e-9)
	assert.Equal(t, []string{"name_exact"}, exact.MatchedFactors)

	// A misspelling breaks the exact substring but enough significant
	// words survive for the fuzzy factor.
	fuzzy := ScoreSupplier(model.ExtractedSignals{Text: "delivery from nordwind logistcs"}, &supplier, conf)
	assert.InDelta(t, conf.FuzzyNameWeight, fuzzy.Confidence, 1e-9)
	assert.Equal(t, []string{"name_fuzzy"}, fuzzy.MatchedFactors)
}

func TestScoreSupplier_ConfidenceCapped(t *testing.T) {
	conf := pipelineConf()
	conf.NameWeight = 0.8
	conf.CodeWeight = 0.8
	supplier := model.Supplier{SupplierID: "sup_1", Name: "Acme", Code: "AC-1"}
	signals := model.ExtractedSignals{Text: "acme ac-1"}

	score := ScoreSupplier(signals, &supplier, conf)
	assert.Equal(t, 1.0, score.Confidence)
}

func TestScoreSupplier_HintsContribute(t *testing.T) {
	conf := pipelineConf()
	supplier := model.Supplier{SupplierID: "sup_1", Name: "Acme Industrial Supplies", Code: "ACME-001"}
	signals := model.ExtractedSignals{
		Text:  "unreadable scan",
		Hints: map[string]string{"vendor_code": "ACME-001"},
	}

	score := ScoreSupplier(signals, &supplier, conf)
	assert.InDelta(t, conf.CodeWeight, score.Confidence, 1e-9)
	assert.Equal(t, []string{"code"}, score.MatchedFactors)
}

func TestBestSupplierScore_TieBreaksToFirstListed(t *testing.T) {
	conf := pipelineConf()
	suppliers := []model.Supplier{
		{SupplierID: "sup_first", Name: "Shared Name Trading", Code: "FIRST-1"},
		{SupplierID: "sup_second", Name: "Shared Name Trading", Code: "SECOND-2"},
	}
	signals := model.ExtractedSignals{Text: "invoice from shared name trading"}

	best, scores := BestSupplierScore(signals, suppliers, conf)
	assert.Equal(t, 0, best)
	assert.Equal(t, "sup_first", scores[best].SupplierID)
	assert.Equal(t, scores[0].Confidence, scores[1].Confidence)
}

func TestBestSupplierScore_EmptyCandidates(t *testing.T) {
	conf := pipelineConf()
	best, scores := BestSupplierScore(model.ExtractedSignals{Text: "anything"}, nil, conf)
	assert.Equal(t, -1, best)
	assert.Empty(t, scores)
}

func TestBestSupplierScore_HighestWins(t *testing.T) {
	conf := pipelineConf()
	suppliers := []model.Supplier{
		{SupplierID: "sup_weak", Name: "Acme Industrial Supplies", Code: "ACME-001"},
		{SupplierID: "sup_strong", Name: "Nordwind Logistics", Code: "NORD-77", Email: "invoice@nordwind.example"},
	}
	signals := model.ExtractedSignals{Text: "nordwind logistics NORD-77 invoice@nordwind.example"}

	best, scores := BestSupplierScore(signals, suppliers, conf)
	assert.Equal(t, 1, best)
	assert.InDelta(t, conf.NameWeight+conf.CodeWeight+conf.EmailWeight, scores[best].Confidence, 1e-9)
	assert.GreaterOrEqual(t, scores[best].Confidence, conf.IdentificationThreshold)
}
