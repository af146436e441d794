package crew

import "fmt"

// Budgets are the resource ceilings bounding one orchestrated run.
// Zero means unlimited for that dimension.
type Budgets struct {
	WallClockSec   int `yaml:"wall_clock_sec" json:"wall_clock_sec"`
	MaxToolCalls   int `yaml:"max_tool_calls" json:"max_tool_calls"`
	MaxTokensTotal int `yaml:"max_tokens_total" json:"max_tokens_total"`
}

// Validate checks the budgets for negative values.
func (b Budgets) Validate() error {
	if b.WallClockSec < 0 {
		return fmt.Errorf("wall_clock_sec cannot be negative")
	}
	if b.MaxToolCalls < 0 {
		return fmt.Errorf("max_tool_calls cannot be negative")
	}
	if b.MaxTokensTotal < 0 {
		return fmt.Errorf("max_tokens_total cannot be negative")
	}
	return nil
}

// GateKind discriminates quality gate rules.
type GateKind string

const (
	GateMinImages    GateKind = "min_images"
	GateTableHasCols GateKind = "table_has_cols"
	GateMaxNullPct   GateKind = "max_null_pct"
)

// QualityGate is a named rule over blackboard contents that must hold
// before a run is considered complete. Only the fields relevant to the
// gate's kind are set.
type QualityGate struct {
	Kind    GateKind `yaml:"kind" json:"kind"`
	Count   int      `yaml:"count,omitempty" json:"count,omitempty"`     // min_images
	Table   string   `yaml:"table,omitempty" json:"table,omitempty"`     // table_has_cols
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"` // table_has_cols
	Column  string   `yaml:"column,omitempty" json:"column,omitempty"`   // max_null_pct
	MaxPct  float64  `yaml:"max_pct,omitempty" json:"max_pct,omitempty"` // max_null_pct
}

// MinImages builds a gate requiring at least n PNG artifacts.
func MinImages(n int) QualityGate {
	return QualityGate{Kind: GateMinImages, Count: n}
}

// TableHasCols builds a gate requiring the named table artifact to exist
// and contain the given columns.
func TableHasCols(table string, cols ...string) QualityGate {
	return QualityGate{Kind: GateTableHasCols, Table: table, Columns: cols}
}

// MaxNullPct builds a gate requiring the recorded null ratio for a column
// to be at most pct.
func MaxNullPct(column string, pct float64) QualityGate {
	return QualityGate{Kind: GateMaxNullPct, Column: column, MaxPct: pct}
}

// Validate checks the gate's fields against its kind.
func (g QualityGate) Validate() error {
	switch g.Kind {
	case GateMinImages:
		if g.Count < 1 {
			return fmt.Errorf("min_images gate requires count >= 1")
		}
	case GateTableHasCols:
		if g.Table == "" {
			return fmt.Errorf("table_has_cols gate requires a table name")
		}
		if len(g.Columns) == 0 {
			return fmt.Errorf("table_has_cols gate requires at least one column")
		}
	case GateMaxNullPct:
		if g.Column == "" {
			return fmt.Errorf("max_null_pct gate requires a column name")
		}
		if g.MaxPct < 0 || g.MaxPct > 1 {
			return fmt.Errorf("max_null_pct gate requires max_pct in [0, 1]")
		}
	default:
		return fmt.Errorf("unknown gate kind: %q", g.Kind)
	}
	return nil
}

// PlanContract is the sole authority for what one crew run is permitted to
// do. It is immutable once the run starts.
type PlanContract struct {
	Goal                 string        `yaml:"goal" json:"goal"`
	AllowedTools         []string      `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	RequiredDeliverables []string      `yaml:"required_deliverables,omitempty" json:"required_deliverables,omitempty"`
	Budgets              Budgets       `yaml:"budgets" json:"budgets"`
	QualityGates         []QualityGate `yaml:"quality_gates,omitempty" json:"quality_gates,omitempty"`
}

// Validate performs strict validation on the contract.
func (c *PlanContract) Validate() error {
	if c.Goal == "" {
		return fmt.Errorf("contract goal cannot be empty")
	}
	if err := c.Budgets.Validate(); err != nil {
		return fmt.Errorf("invalid budgets: %w", err)
	}
	for i, g := range c.QualityGates {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("invalid quality gate %d: %w", i, err)
		}
	}
	return nil
}
