// Package manifest holds the canonical picking unit for one shipment
// (CTRC): its expected lines, scan progress and derived totals.
package manifest

// LineStatus is the derived picking state of a single manifest line.
// The wire values match what the picking endpoint expects.
type LineStatus string

const (
	StatusPending LineStatus = "Pendente"
	StatusPartial LineStatus = "Parcial"
	StatusDone    LineStatus = "Finalizado"
)

// Line is one expected item within a manifest. RemainingQty and Status
// are always derived from ExpectedQty and ScannedQty, never trusted
// from input.
type Line struct {
	Code         string     `json:"codigo"`
	Barcode      string     `json:"ean"`
	Description  string     `json:"produto"`
	ExpectedQty  int        `json:"quantidade"`
	ScannedQty   int        `json:"qtd_bipada"`
	RemainingQty int        `json:"qtd_restante"`
	Unit         string     `json:"unid"`
	Status       LineStatus `json:"status"`
}

// Totals aggregates scan progress over all lines of a manifest.
type Totals struct {
	LineCount      int `json:"linhas"`
	ExpectedTotal  int `json:"quantidade_total"`
	ScannedTotal   int `json:"qtd_bipada_total"`
	RemainingTotal int `json:"qtd_restante_total"`
}

// Manifest is the normalized picking unit for one shipment.
type Manifest struct {
	ID               string `json:"ctrc"`
	Sender           string `json:"remetente"`
	Recipient        string `json:"destinatario"`
	City             string `json:"cidade"`
	ExpectedDelivery string `json:"prev_entrega"`
	Status           string `json:"status"`
	Lines            []Line `json:"itens"`
	Totals           Totals `json:"totais"`
}

// recompute refreshes the derived fields of a line from its quantities.
func (l *Line) recompute() {
	l.RemainingQty = l.ExpectedQty - l.ScannedQty
	if l.RemainingQty < 0 {
		l.RemainingQty = 0
	}
	switch {
	case l.ScannedQty >= l.ExpectedQty:
		l.Status = StatusDone
	case l.ScannedQty > 0:
		l.Status = StatusPartial
	default:
		l.Status = StatusPending
	}
}

// ComputeTotals derives the aggregate counters from the given lines.
// Pure function, safe to call after any line mutation.
func ComputeTotals(lines []Line) Totals {
	t := Totals{LineCount: len(lines)}
	for _, l := range lines {
		t.ExpectedTotal += l.ExpectedQty
		t.ScannedTotal += l.ScannedQty
		if rem := l.ExpectedQty - l.ScannedQty; rem > 0 {
			t.RemainingTotal += rem
		}
	}
	return t
}

// Recompute refreshes every derived field: per-line remaining/status and
// the manifest totals.
func (m *Manifest) Recompute() {
	for i := range m.Lines {
		m.Lines[i].recompute()
	}
	m.Totals = ComputeTotals(m.Lines)
}

// AllDone reports whether every line reached its expected quantity.
// Completion may only be submitted when this holds.
func (m *Manifest) AllDone() bool {
	for _, l := range m.Lines {
		if l.ScannedQty < l.ExpectedQty {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	if m.Lines != nil {
		c.Lines = make([]Line, len(m.Lines))
		copy(c.Lines, m.Lines)
	}
	return &c
}
