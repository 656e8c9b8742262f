package domain

import "time"

// CustomRule is an operator-defined additive scoring rule.
// The expression is a CEL program that must evaluate to bool; when it
// evaluates true the rule's weight is added to the fraud score (before the
// 1.0 cap) and its reason is appended. The four built-in estimator rules are
// fixed constants and are never expressed as custom rules.
type CustomRule struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Expression string  `json:"expression"`
	Weight     float64 `json:"weight"`
	Reason     string  `json:"reason"`
	Enabled    bool    `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
