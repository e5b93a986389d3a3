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
	"strings"

	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/model"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// ScoreSupplier computes the weighted match confidence between extracted
// document signals and one candidate supplier. Each factor test adds its
// configured weight on match. A fuzzy name hit carries a reduced weight and
// is mutually exclusive with the exact name hit; exact wins when both apply.
// The result is capped at 1.0 and deterministic for fixed inputs.
func ScoreSupplier(signals model.ExtractedSignals, supplier *model.Supplier, conf config.PipelineConfig) model.SupplierScore {
	text := normalizeSignalText(signals)
	score := model.SupplierScore{
		SupplierID:     supplier.SupplierID,
		SupplierName:   supplier.Name,
		MatchedFactors: []string{},
	}

	name := strings.ToLower(strings.TrimSpace(supplier.Name))
	if name != "" && strings.Contains(text, name) {
		score.Confidence += conf.NameWeight
		score.MatchedFactors = append(score.MatchedFactors, "name_exact")
	} else if fuzzyNameMatch(text, name, conf.FuzzyWordRatio, conf.FuzzyDriftPercent) {
		score.Confidence += conf.FuzzyNameWeight
		score.MatchedFactors = append(score.MatchedFactors, "name_fuzzy")
	}

	code := strings.ToLower(strings.TrimSpace(supplier.Code))
	if code != "" && strings.Contains(text, code) {
		score.Confidence += conf.CodeWeight
		score.MatchedFactors = append(score.MatchedFactors, "code")
	}

	email := strings.ToLower(strings.TrimSpace(supplier.Email))
	if email != "" && strings.Contains(text, email) {
		score.Confidence += conf.EmailWeight
		score.MatchedFactors = append(score.MatchedFactors, "email")
	}

	phone := normalizePhone(supplier.Phone)
	if phone != "" && strings.Contains(normalizePhone(text), phone) {
		score.Confidence += conf.PhoneWeight
		score.MatchedFactors = append(score.MatchedFactors, "phone")
	}

	if score.Confidence > 1.0 {
		score.Confidence = 1.0
	}
	return score
}

// BestSupplierScore scores every candidate and returns the winner's index
// along with all scores. Ties on equal top confidence resolve to the
// first-listed candidate, so the outcome is stable for a fixed candidate
// order. Returns -1 when the candidate list is empty.
func BestSupplierScore(signals model.ExtractedSignals, suppliers []model.Supplier, conf config.PipelineConfig) (int, []model.SupplierScore) {
	scores := make([]model.SupplierScore, len(suppliers))
	best := -1
	for i := range suppliers {
		scores[i] = ScoreSupplier(signals, &suppliers[i], conf)
		if best == -1 || scores[i].Confidence > scores[best].Confidence {
			best = i
		}
	}
	return best, scores
}

func normalizeSignalText(signals model.ExtractedSignals) string {
	parts := []string{signals.Text}
	for _, hint := range signals.Hints {
		parts = append(parts, hint)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// fuzzyNameMatch checks whether enough of the name's significant words
// appear in the text. Words of four characters or more count; short fillers
// like "the" or "ltd" are ignored. A word is present when the text contains
// it outright or within the allowable Levenshtein drift.
func fuzzyNameMatch(text, name string, wordRatio, driftPercent float64) bool {
	if name == "" {
		return false
	}
	significant := []string{}
	for _, word := range strings.Fields(name) {
		if len(word) > 3 {
			significant = append(significant, word)
		}
	}
	if len(significant) == 0 {
		return false
	}

	textWords := strings.Fields(text)
	found := 0
	for _, word := range significant {
		if strings.Contains(text, word) {
			found++
			continue
		}
		for _, candidate := range textWords {
			if withinDrift(word, candidate, driftPercent) {
				found++
				break
			}
		}
	}
	return float64(found)/float64(len(significant)) >= wordRatio
}

// withinDrift compares two words using Levenshtein distance against a
// percentage of the longer word's length.
func withinDrift(str1, str2 string, driftPercent float64) bool {
	distance := levenshtein.DistanceForStrings([]rune(str1), []rune(str2), levenshtein.DefaultOptions)
	maxLength := len(str1)
	if len(str2) > maxLength {
		maxLength = len(str2)
	}
	maxAllowedDistance := int(float64(maxLength) * (driftPercent / 100))
	return distance <= maxAllowedDistance
}

func normalizePhone(value string) string {
	var digits strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}
