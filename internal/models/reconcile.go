package models

// ConsistencyReport is the read-only output of a reconciler check.
type ConsistencyReport struct {
	// Missing are metadata records whose blob is absent on disk.
	Missing []*FileRecord `json:"missing"`
	// Orphans are blob paths (relative to the vault root) with no metadata record.
	Orphans []string `json:"orphans"`
}

// Clean reports whether the check found no divergence.
func (r *ConsistencyReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Orphans) == 0
}

// RepairFailure records one item the reconciler could not repair.
type RepairFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RepairResult reports what a repair pass deleted. Repair is irreversible.
type RepairResult struct {
	ClearedMissing int             `json:"cleared_missing"`
	RemovedOrphans int             `json:"removed_orphans"`
	Failures       []RepairFailure `json:"failures,omitempty"`
}
