package rules

import (
	"schemaflow/internal/domain"
)

// Resolve evaluates one rule against one payload: candidates are tried in
// coalesce order and the first present, non-null scalar wins; the transform
// and validation then apply. When no candidate resolves, the rule's
// constant (untransformed, still validated) fills in if declared.
//
// resolved=false with err=nil means the column simply has no value for this
// record. err!=nil means a value was produced but rejected; the column
// stays unset either way, without failing the record.
func Resolve(rule domain.TransformationRule, payload domain.Value) (value string, resolved bool, err error) {
	raw, found := coalesce(rule.Candidates, payload)

	if !found {
		if rule.Constant == nil {
			if rule.Validation.Required {
				return "", false, domain.ErrValidation("required value missing")
			}
			return "", false, nil
		}
		value = *rule.Constant
	} else {
		value, err = ApplyTransform(rule.Transform, raw)
		if err != nil {
			return "", false, err
		}
	}

	if err := CheckValue(rule.Validation, value); err != nil {
		return "", false, err
	}
	return value, true, nil
}

// coalesce returns the first present, non-null scalar among the candidate
// paths. An array-wildcard path contributes its first non-null element.
// Objects and arrays at a candidate position do not satisfy a scalar
// column and are skipped.
func coalesce(candidates []string, payload domain.Value) (string, bool) {
	for _, path := range candidates {
		for _, v := range domain.LookupPath(payload, path) {
			if s, ok := v.Scalar(); ok {
				return s, true
			}
		}
	}
	return "", false
}
