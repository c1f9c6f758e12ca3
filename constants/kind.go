package constants

import (
	"strings"
)

// WorkflowKind names the kind of document-processing job submitted to the workflow service.
type WorkflowKind string

const (
	DepositionSummary      WorkflowKind = "DEPOSITION_SUMMARY"
	DepositionAnalysis     WorkflowKind = "DEPOSITION_ANALYSIS"
	MedicalChronology      WorkflowKind = "MEDICAL_CHRONOLOGY"
	TranscriptSummary      WorkflowKind = "TRANSCRIPT_SUMMARY"
	DocumentClassification WorkflowKind = "DOCUMENT_CLASSIFICATION"
)

var allKinds = []WorkflowKind{
	DepositionSummary,
	DepositionAnalysis,
	MedicalChronology,
	TranscriptSummary,
	DocumentClassification,
}

func KindsAsStringSlice() []string {
	result := make([]string, len(allKinds))
	for i, k := range allKinds {
		result[i] = string(k)
	}
	return result
}

// CanonicalKind maps user input ("depo summary", "deposition_summary") onto a known kind.
func CanonicalKind(input string) (WorkflowKind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]WorkflowKind{
		"depo summary":   DepositionSummary,
		"depo":           DepositionSummary,
		"depo analysis":  DepositionAnalysis,
		"med chron":      MedicalChronology,
		"medical chron":  MedicalChronology,
		"transcript":     TranscriptSummary,
		"classify":       DocumentClassification,
		"classification": DocumentClassification,
	}
	if k, ok := synonyms[normalized]; ok {
		return k, true
	}

	key := strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, k := range allKinds {
		if key == strings.ToLower(string(k)) {
			return k, true
		}
	}
	return "", false
}
