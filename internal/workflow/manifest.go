package workflow

import (
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

// Artifact is one output document listed in a job manifest.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}

// MachineReadable reports whether the artifact carries structured output that needs no extraction.
func (a Artifact) MachineReadable() bool {
	return strings.EqualFold(a.Type, constants.ArtifactResult) ||
		constants.NormalizeMime(a.MimeType) == constants.MimeJSON
}

const notEligible = -1

// rank orders candidates: machine-readable result, then report, then any artifact of the
// expected type. Lower is better.
func rank(a Artifact, expectedMime string) int {
	switch {
	case a.MachineReadable():
		return 0
	case strings.EqualFold(a.Type, constants.ArtifactReport):
		return 1
	case expectedMime != "" && constants.NormalizeMime(a.MimeType) == constants.NormalizeMime(expectedMime):
		return 2
	}
	return notEligible
}

// SelectArtifact picks the best artifact from a manifest. Ties go to the earliest entry.
func SelectArtifact(artifacts []Artifact, expectedMime string) (Artifact, bool) {
	best, bestRank := Artifact{}, notEligible
	for _, a := range artifacts {
		r := rank(a, expectedMime)
		if r == notEligible {
			continue
		}
		if bestRank == notEligible || r < bestRank {
			best, bestRank = a, r
		}
	}
	return best, bestRank != notEligible
}
