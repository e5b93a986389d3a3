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
package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

func (c *CreatePassport) ValidateCreatePassport() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DocumentID, validation.Required),
		validation.Field(&c.ExtractedText, validation.When(len(c.Hints) == 0, validation.Required.Error("extracted_text or hints is required"))),
		validation.Field(&c.CaptureConfidence, validation.Min(0.0), validation.Max(1.0)),
	)
}

func (i *IdentifyPassport) ValidateIdentifyPassport() error {
	if i.ExtractedText == "" && len(i.Hints) == 0 {
		return errors.New("extracted_text or hints is required")
	}
	return nil
}

func (s *CreateSupplier) ValidateCreateSupplier() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Code, validation.Required),
		validation.Field(&s.Email, validation.When(s.Email != "", is.Email)),
	)
}
