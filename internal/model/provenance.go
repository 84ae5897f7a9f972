package model

// FieldProvenance records which source won a merged field.
type FieldProvenance struct {
	Field    string `json:"field"`
	Provider string `json:"provider"`
	Role     Role   `json:"role"`
	Value    string `json:"value"`
	// Candidates counts the sources that offered a non-empty value.
	Candidates int `json:"candidates"`
}

// ProvenanceFor returns the provenance entry for field, if any.
func (p *MergedProfile) ProvenanceFor(field string) (FieldProvenance, bool) {
	for _, fp := range p.Provenance {
		if fp.Field == field {
			return fp, true
		}
	}
	return FieldProvenance{}, false
}
