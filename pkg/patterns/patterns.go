// Package patterns raises rule-based suspicious-pattern flags on contract
// records. Rules are CEL expressions evaluated per record against batch-level
// context such as the number of awards between the same vendor and authority.
package patterns

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/hed1ad/procurewatch/pkg/procurement"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// Rule is a named boolean CEL expression.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Expression  string `json:"expression" yaml:"expression"`
}

// DefaultRules flags rapid awards, round-number contract values and
// vendor-authority pairs that trade unusually often.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "rapid_award",
			Description: "awarded less than a week after publication",
			Expression:  "has_publish_date && days_to_award < 7.0",
		},
		{
			ID:          "round_number",
			Description: "contract value is a multiple of 10 000",
			Expression:  "value >= 10000.0 && value == double(int(value / 10000.0)) * 10000.0",
		},
		{
			ID:          "high_frequency",
			Description: "vendor and authority share at least 10 contracts in the batch",
			Expression:  "pair_count >= 10",
		},
	}
}

// Flags lists the rules a record raised.
type Flags struct {
	Raised []string `json:"flags,omitempty"`
	Total  int      `json:"total_flags"`
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// Engine evaluates a fixed rule set.
type Engine struct {
	env   *cel.Env
	rules []compiledRule
}

// NewEngine compiles rules. Every expression must return bool and rule IDs
// must be unique.
func NewEngine(rules []Rule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DoubleType),
		cel.Variable("days_to_award", cel.DoubleType),
		cel.Variable("has_publish_date", cel.BoolType),
		cel.Variable("pair_count", cel.IntType),
		cel.Variable("vendor_contract_count", cel.IntType),
		cel.Variable("authority_contract_count", cel.IntType),
		cel.Variable("vendor", cel.StringType),
		cel.Variable("authority", cel.StringType),
		cel.Variable("category", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: pattern rule without id", riskerr.ErrConfig)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate pattern rule %s", riskerr.ErrConfig, r.ID)
		}
		seen[r.ID] = true

		compiled, err := e.compile(r)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiled)
	}
	return e, nil
}

func (e *Engine) compile(r Rule) (compiledRule, error) {
	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledRule{}, fmt.Errorf("%w: failed to compile rule %s: %v", riskerr.ErrConfig, r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return compiledRule{}, fmt.Errorf("%w: rule %s must return bool, got %s", riskerr.ErrConfig, r.ID, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return compiledRule{}, fmt.Errorf("%w: failed to create program for rule %s: %v", riskerr.ErrConfig, r.ID, err)
	}
	return compiledRule{rule: r, program: program}, nil
}

// Rules returns the compiled rule definitions in evaluation order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, c := range e.rules {
		out[i] = c.rule
	}
	return out
}

// Evaluate returns the flags raised by every record of batch.
func (e *Engine) Evaluate(batch *procurement.Batch) ([]Flags, error) {
	pairs := make(map[[2]string]int64)
	vendors := make(map[string]int64)
	authorities := make(map[string]int64)
	for _, rec := range batch.Records {
		pairs[[2]string{rec.VendorID, rec.AuthorityID}]++
		vendors[rec.VendorID]++
		authorities[rec.AuthorityID]++
	}
	hasPublish := batch.Has(procurement.ColumnPublishDate)

	out := make([]Flags, batch.Len())
	for i, rec := range batch.Records {
		days := 0.0
		if hasPublish {
			days = rec.DaysToAward()
		}
		activation := map[string]any{
			"value":                    rec.Value,
			"days_to_award":            days,
			"has_publish_date":         hasPublish,
			"pair_count":               pairs[[2]string{rec.VendorID, rec.AuthorityID}],
			"vendor_contract_count":    vendors[rec.VendorID],
			"authority_contract_count": authorities[rec.AuthorityID],
			"vendor":                   rec.VendorID,
			"authority":                rec.AuthorityID,
			"category":                 rec.CategoryCode,
		}

		for _, c := range e.rules {
			val, _, err := c.program.Eval(activation)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %s on record %s: %v", riskerr.ErrDataQuality, c.rule.ID, rec.ID, err)
			}
			if raised, ok := val.Value().(bool); ok && raised {
				out[i].Raised = append(out[i].Raised, c.rule.ID)
			}
		}
		out[i].Total = len(out[i].Raised)
	}
	return out, nil
}
