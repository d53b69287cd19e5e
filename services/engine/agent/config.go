// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Tool names the agent may be granted.
const (
	ToolPDFExtract = "pdf_extract"
	ToolFormatter  = "formatter"
	ToolLLMCall    = "llm_call"
)

var validTools = map[string]bool{
	ToolPDFExtract: true,
	ToolFormatter:  true,
	ToolLLMCall:    true,
}

// Budget defaults and bounds.
const (
	DefaultMaxIterations  = 5
	DefaultMaxConcurrent  = 1
	DefaultTimeoutSeconds = 30.0
	DefaultMaxRetries     = 3

	maxConcurrentLimit  = 10
	timeoutSecondsLimit = 30.0
	maxRetriesLimit     = 3
)

// Config is the parsed agent-node configuration.
type Config struct {
	Objective       string
	Tools           []string
	Budgets         map[string]any
	MaxIterations   int
	MaxConcurrent   int
	TimeoutSeconds  float64
	MaxRetries      int
	FormattingRules []string
}

// HasTool reports whether the tool was granted in the configuration.
func (c *Config) HasTool(name string) bool {
	for _, tool := range c.Tools {
		if tool == name {
			return true
		}
	}
	return false
}

// ValidateConfig checks an agent configuration map against policy limits.
//
// Outputs:
//
//	bool - True when the configuration is acceptable.
//	string - Rejection reason naming the offending field otherwise.
func ValidateConfig(config map[string]any) (bool, string) {
	_, err := ParseConfig(config)
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}

// ParseConfig validates and extracts a Config from the raw node map.
func ParseConfig(config map[string]any) (*Config, error) {
	objective, ok := config["objective"].(string)
	if !ok || objective == "" {
		return nil, fmt.Errorf("agent config missing required field: objective")
	}

	rawTools, ok := config["tools"]
	if !ok {
		return nil, fmt.Errorf("agent config missing required field: tools")
	}
	tools, ok := stringList(rawTools)
	if !ok || len(tools) == 0 {
		return nil, fmt.Errorf("agent tools must be a non-empty list")
	}
	for _, tool := range tools {
		if !validTools[tool] {
			return nil, fmt.Errorf("invalid tool %q (valid tools: %s)", tool, validToolNames())
		}
	}

	rawBudgets, ok := config["budgets"]
	if !ok {
		return nil, fmt.Errorf("agent config missing required field: budgets")
	}
	budgets, ok := rawBudgets.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("agent budgets must be a map")
	}

	maxConcurrent := DefaultMaxConcurrent
	if raw, ok := config["max_concurrent"]; ok {
		n, isInt := intValue(raw)
		if !isInt || n < 1 || n > maxConcurrentLimit {
			return nil, fmt.Errorf("max_concurrent must be an integer between 1 and %d", maxConcurrentLimit)
		}
		maxConcurrent = n
	}

	timeoutSeconds := DefaultTimeoutSeconds
	if raw, ok := config["timeout_seconds"]; ok {
		f, isNum := floatValue(raw)
		if !isNum || f <= 0 || f > timeoutSecondsLimit {
			return nil, fmt.Errorf("timeout_seconds must be a number between 0 and %d", int(timeoutSecondsLimit))
		}
		timeoutSeconds = f
	}

	maxRetries := DefaultMaxRetries
	if raw, ok := config["max_retries"]; ok {
		n, isInt := intValue(raw)
		if !isInt || n < 0 || n > maxRetriesLimit {
			return nil, fmt.Errorf("max_retries must be an integer between 0 and %d", maxRetriesLimit)
		}
		maxRetries = n
	}

	maxIterations := DefaultMaxIterations
	if raw, ok := config["max_iterations"]; ok {
		if n, isInt := intValue(raw); isInt && n > 0 {
			maxIterations = n
		}
	}

	rules := []string{"lowercase"}
	if raw, ok := config["formatting_rules"]; ok {
		if list, isList := stringList(raw); isList {
			rules = list
		}
	}

	return &Config{
		Objective:       objective,
		Tools:           tools,
		Budgets:         budgets,
		MaxIterations:   maxIterations,
		MaxConcurrent:   maxConcurrent,
		TimeoutSeconds:  timeoutSeconds,
		MaxRetries:      maxRetries,
		FormattingRules: rules,
	}, nil
}

func validToolNames() string {
	names := make([]string, 0, len(validTools))
	for name := range validTools {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// stringList converts a decoded JSON array into []string.
func stringList(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// intValue accepts int or an integral float64 (JSON numbers decode as
// float64).
func intValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

func floatValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
