package manifest

// Outcome classifies the result of applying one scanned token.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeAlreadyComplete Outcome = "already_complete"
)

// Policy controls scan behavior that is configurable per deployment.
// AllowOverscan permits incrementing a line past its expected quantity;
// the default blocks it.
type Policy struct {
	AllowOverscan bool
}

// ScanResult is the outcome of one scan. Line points into the manifest
// when a line matched, including the AlreadyComplete case. Totals is
// the manifest's aggregate state as of this scan, so callers never have
// to re-read the manifest after the fact.
type ScanResult struct {
	Outcome Outcome
	Line    *Line
	Totals  Totals
}

// ApplyScan resolves a token against the manifest and applies one unit
// of progress. The first line whose barcode or code equals the token
// wins, in manifest order, barcode checked first. On a match under
// quota the line and the manifest totals are recomputed in place; on
// NotFound or AlreadyComplete the manifest is left untouched.
func ApplyScan(m *Manifest, token string, policy Policy) ScanResult {
	var line *Line
	for i := range m.Lines {
		l := &m.Lines[i]
		if (l.Barcode != "" && l.Barcode == token) || (l.Code != "" && l.Code == token) {
			line = l
			break
		}
	}
	if line == nil {
		return ScanResult{Outcome: OutcomeNotFound, Totals: m.Totals}
	}

	if line.ScannedQty >= line.ExpectedQty && !policy.AllowOverscan {
		return ScanResult{Outcome: OutcomeAlreadyComplete, Line: line, Totals: m.Totals}
	}

	line.ScannedQty++
	line.recompute()
	m.Totals = ComputeTotals(m.Lines)
	return ScanResult{Outcome: OutcomeApplied, Line: line, Totals: m.Totals}
}
