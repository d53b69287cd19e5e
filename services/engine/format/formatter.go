// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package format applies ordered text-formatting rules.
//
// The formatter is stateless and deterministic: each rule's output feeds
// the next, so rule order is significant. An empty rule list is valid and
// passes text through unchanged.
package format

import (
	"errors"
	"fmt"
	"strings"
)

// Rule names accepted by Apply.
const (
	RuleLowercase  = "lowercase"
	RuleUppercase  = "uppercase"
	RuleHalfToFull = "half_to_full"
	RuleFullToHalf = "full_to_half"
)

// ErrUnsupportedRule is returned when a rule name is not recognized.
var ErrUnsupportedRule = errors.New("unsupported formatter rule")

// supportedRules is the closed rule set, in documentation order.
var supportedRules = []string{RuleLowercase, RuleUppercase, RuleHalfToFull, RuleFullToHalf}

// SupportedRules returns the rule names Apply accepts.
func SupportedRules() []string {
	return append([]string(nil), supportedRules...)
}

// ValidateRules checks that every rule is drawn from the supported set.
//
// Outputs:
//
//	bool - True when all rules are supported (an empty list is valid).
//	string - Human-readable reason when invalid, naming the bad rule.
func ValidateRules(rules []string) (bool, string) {
	for _, rule := range rules {
		if !isSupported(rule) {
			return false, fmt.Sprintf("unsupported rule: %q (supported rules: %s)",
				rule, strings.Join(supportedRules, ", "))
		}
	}
	return true, ""
}

// Apply runs the rules over text in list order.
//
// Inputs:
//
//	text - The input text.
//	rules - Rule names, applied left to right.
//
// Outputs:
//
//	string - The formatted text.
//	error - Non-nil (wrapping ErrUnsupportedRule) if any rule is unknown;
//	the text is not partially formatted in that case.
func Apply(text string, rules []string) (string, error) {
	if ok, reason := ValidateRules(rules); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedRule, reason)
	}

	result := text
	for _, rule := range rules {
		switch rule {
		case RuleLowercase:
			result = strings.ToLower(result)
		case RuleUppercase:
			result = strings.ToUpper(result)
		case RuleHalfToFull:
			result = halfToFull(result)
		case RuleFullToHalf:
			result = fullToHalf(result)
		}
	}
	return result, nil
}

func isSupported(rule string) bool {
	for _, supported := range supportedRules {
		if rule == supported {
			return true
		}
	}
	return false
}

// halfToFull maps ASCII space to ideographic space and printable ASCII
// 0x21-0x7E to the fullwidth block 0xFF01-0xFF5E. Everything else passes
// through unchanged. The mapping round-trips exactly with fullToHalf for
// code points 0x20-0x7E.
func halfToFull(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0x20:
			b.WriteRune(0x3000)
		case r >= 0x21 && r <= 0x7E:
			b.WriteRune(r - 0x21 + 0xFF01)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fullToHalf is the inverse of halfToFull.
func fullToHalf(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0x3000:
			b.WriteRune(0x20)
		case r >= 0xFF01 && r <= 0xFF5E:
			b.WriteRune(r - 0xFF01 + 0x21)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
