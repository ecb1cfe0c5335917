package model

// VersionLedger is the append-only list of generated versions of a paper.
type VersionLedger struct {
	Versions            []GeneratedPaper `json:"versions"`
	CurrentVersionIndex int              `json:"currentVersionIndex"`
}

// NewLedger returns an empty ledger.
func NewLedger() VersionLedger {
	return VersionLedger{CurrentVersionIndex: -1}
}

// NextVersionNumber is the 1-based number the next append receives.
func (l VersionLedger) NextVersionNumber() int {
	return len(l.Versions) + 1
}

// Append returns a new ledger with p added as the newest, current version.
// The receiver and its entries are left untouched.
func (l VersionLedger) Append(p GeneratedPaper) (VersionLedger, GeneratedPaper) {
	p.VersionNumber = l.NextVersionNumber()
	versions := make([]GeneratedPaper, len(l.Versions), len(l.Versions)+1)
	copy(versions, l.Versions)
	versions = append(versions, p)
	return VersionLedger{Versions: versions, CurrentVersionIndex: len(versions) - 1}, p
}

// Current returns the active version, or false when the ledger is empty.
func (l VersionLedger) Current() (GeneratedPaper, bool) {
	if l.CurrentVersionIndex < 0 || l.CurrentVersionIndex >= len(l.Versions) {
		return GeneratedPaper{}, false
	}
	return l.Versions[l.CurrentVersionIndex], true
}

// Version returns the version with the given 1-based number.
func (l VersionLedger) Version(n int) (GeneratedPaper, bool) {
	if n < 1 || n > len(l.Versions) {
		return GeneratedPaper{}, false
	}
	return l.Versions[n-1], true
}
