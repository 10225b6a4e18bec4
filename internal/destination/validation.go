package destination

import "fmt"

// Validation accumulates blocking problems and advisory warnings.
type Validation struct {
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (v *Validation) Problem(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *Validation) Warn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

func (v *Validation) Merge(o Validation) {
	v.Problems = append(v.Problems, o.Problems...)
	v.Warnings = append(v.Warnings, o.Warnings...)
}

func (v Validation) OK() bool { return len(v.Problems) == 0 }
