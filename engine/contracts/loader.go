// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package contracts

import (
	"encoding/json"
	"fmt"
	"os"
)

// MaxQuestionnaireFileSize bounds the canonical questionnaire document.
const MaxQuestionnaireFileSize = 8 << 20 // 8 MiB

// questionnaireFile is the on-disk JSON shape.
type questionnaireFile struct {
	Version   string     `json:"version"`
	Questions []Question `json:"questions"`
}

// LoadQuestionnaire reads and validates the canonical questionnaire.
//
// Outputs:
//   - *Questionnaire: The immutable validated view.
//   - error: Oversized or unreadable file, malformed JSON, or a
//     *ContractError listing every shape violation.
func LoadQuestionnaire(path string) (*Questionnaire, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("questionnaire %s: %w", path, err)
	}
	if info.Size() > MaxQuestionnaireFileSize {
		return nil, fmt.Errorf("questionnaire %s exceeds %d bytes", path, MaxQuestionnaireFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("questionnaire %s: %w", path, err)
	}
	var f questionnaireFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ContractError{Cause: fmt.Errorf("questionnaire %s: malformed JSON: %w", path, err)}
	}
	return New(f.Version, f.Questions)
}
