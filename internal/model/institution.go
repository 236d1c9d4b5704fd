package model

import "sort"

// CodeWidth is the fixed width of a canonical institution code.
const CodeWidth = 8

// InstitutionCode is a zero-padded, fixed-width BACEN institution code.
// Construct it through normalize.NormalizeCode.
type InstitutionCode string

// Institution is a slowly changing reference record for a reporting entity.
type Institution struct {
	Code    InstitutionCode `json:"code" csv:"code"`
	Name    string          `json:"name" csv:"name"`
	Segment string          `json:"segment,omitempty" csv:"segment"`
	Control string          `json:"control,omitempty" csv:"control"`
	Region  string          `json:"region,omitempty" csv:"region"`
	Type    string          `json:"type,omitempty" csv:"type"`
}

// Registry maps institution codes to their reference records.
type Registry struct {
	byCode map[InstitutionCode]Institution
}

// NewRegistry builds a registry from the given institutions. Later entries win
// over earlier ones with the same code.
func NewRegistry(insts ...Institution) *Registry {
	r := &Registry{byCode: make(map[InstitutionCode]Institution, len(insts))}
	for _, inst := range insts {
		r.Put(inst)
	}
	return r
}

// Put inserts or replaces an institution.
func (r *Registry) Put(inst Institution) {
	if r.byCode == nil {
		r.byCode = make(map[InstitutionCode]Institution)
	}
	r.byCode[inst.Code] = inst
}

// Enrich fills blank fields of the stored record (or creates one) from inst.
// Registry data always wins over what the raw extract carries.
func (r *Registry) Enrich(inst Institution) {
	cur, ok := r.Get(inst.Code)
	if !ok {
		r.Put(inst)
		return
	}
	if cur.Name == "" {
		cur.Name = inst.Name
	}
	if cur.Type == "" {
		cur.Type = inst.Type
	}
	if cur.Segment == "" {
		cur.Segment = inst.Segment
	}
	if cur.Control == "" {
		cur.Control = inst.Control
	}
	if cur.Region == "" {
		cur.Region = inst.Region
	}
	r.byCode[inst.Code] = cur
}

// Get looks up an institution by code.
func (r *Registry) Get(code InstitutionCode) (Institution, bool) {
	if r == nil || r.byCode == nil {
		return Institution{}, false
	}
	inst, ok := r.byCode[code]
	return inst, ok
}

// Len returns the number of registered institutions.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byCode)
}

// All returns every institution sorted by code.
func (r *Registry) All() []Institution {
	if r == nil {
		return nil
	}
	out := make([]Institution, 0, len(r.byCode))
	for _, inst := range r.byCode {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
