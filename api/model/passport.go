package model

import (
	"time"

	"github.com/docbridge/docbridge/model"
)

type CreatePassport struct {
	DocumentID        string            `json:"document_id"`
	DocumentType      string            `json:"document_type"`
	ExtractedText     string            `json:"extracted_text"`
	Hints             map[string]string `json:"hints"`
	CaptureConfidence float64           `json:"capture_confidence"`
	FileQuality       string            `json:"file_quality"`
	CapturedAt        time.Time         `json:"captured_at"`
}

type IdentifyPassport struct {
	ExtractedText string            `json:"extracted_text"`
	Hints         map[string]string `json:"hints"`
}

type AbandonPassport struct {
	Reason string `json:"reason"`
}

type CreateSupplier struct {
	Name     string                 `json:"name"`
	Code     string                 `json:"code"`
	Email    string                 `json:"email"`
	Phone    string                 `json:"phone"`
	MetaData map[string]interface{} `json:"meta_data"`
}

func (c *CreatePassport) ToCaptureDocument() *model.CaptureDocument {
	return &model.CaptureDocument{
		DocumentID: c.DocumentID,
		ExtractedSignals: model.ExtractedSignals{
			Text:  c.ExtractedText,
			Hints: c.Hints,
		},
		DocumentType:      c.DocumentType,
		CaptureConfidence: c.CaptureConfidence,
		FileQuality:       c.FileQuality,
		CapturedAt:        c.CapturedAt,
	}
}

func (i *IdentifyPassport) ToSignals() model.ExtractedSignals {
	return model.ExtractedSignals{Text: i.ExtractedText, Hints: i.Hints}
}

func (s *CreateSupplier) ToSupplier() *model.Supplier {
	return &model.Supplier{
		Name:     s.Name,
		Code:     s.Code,
		Email:    s.Email,
		Phone:    s.Phone,
		MetaData: s.MetaData,
	}
}
