// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"errors"
	"fmt"
)

// minSummaryLength guards against empty-ish summaries like "done".
const minSummaryLength = 10

// Location is one code position implicated by the investigation.
type Location struct {
	File      string `json:"file_path"`
	Line      int    `json:"line"`
	Symbol    string `json:"symbol"`
	Reasoning string `json:"reasoning"`
	Snippet   string `json:"code_snippet,omitempty"`
}

// InvestigationReport is the investigator's final product: where the
// defect lives, why, and how to fix it.
//
// Description:
//
//	A report carrying confidence above zero must name at least one
//	location; the patch generator reads those files. For import errors
//	the location is the module that should be imported, not the file
//	where the import statement failed.
type InvestigationReport struct {
	Summary      string     `json:"summary"`
	Locations    []Location `json:"relevant_locations"`
	RootCause    string     `json:"root_cause"`
	SuggestedFix string     `json:"suggested_fix"`
	Confidence   float64    `json:"confidence"`

	// Trace is the exploration history, one line per action.
	Trace []string `json:"exploration_trace,omitempty"`
}

// ErrInvalidReport wraps every report validation failure.
var ErrInvalidReport = errors.New("agent: invalid investigation report")

// Validate checks the structural rules. The message is echoed back to
// the model verbatim when a submitted report fails, so it must say what
// to fix.
func (r *InvestigationReport) Validate() error {
	if len(r.Summary) < minSummaryLength {
		return fmt.Errorf("%w: summary must be at least %d characters", ErrInvalidReport, minSummaryLength)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f outside [0, 1]", ErrInvalidReport, r.Confidence)
	}
	if r.Confidence > 0 && len(r.Locations) == 0 {
		return fmt.Errorf("%w: a report with confidence > 0 must include at least one relevant location", ErrInvalidReport)
	}
	for i, loc := range r.Locations {
		if loc.File == "" {
			return fmt.Errorf("%w: relevant_locations[%d] is missing file_path", ErrInvalidReport, i)
		}
		if loc.Symbol == "" {
			return fmt.Errorf("%w: relevant_locations[%d] is missing symbol", ErrInvalidReport, i)
		}
	}
	return nil
}
