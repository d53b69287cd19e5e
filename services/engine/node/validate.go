// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package node

import (
	"fmt"
	"strings"

	"github.com/loomworks/loom/services/engine/agent"
	"github.com/loomworks/loom/services/engine/format"
	"github.com/loomworks/loom/services/engine/model"
)

// GenerativeModels is the closed set of models a generative_ai node may
// request.
var GenerativeModels = []string{"gpt-4.1-mini", "gpt-4o", "gpt-5"}

// PromptPlaceholder must appear in every generative prompt template; it
// is replaced with the node's input text at execution time.
const PromptPlaceholder = "{text}"

// Generative parameter bounds.
const (
	TemperatureMin = 0.0
	TemperatureMax = 2.0
	MaxTokensMin   = 1
	MaxTokensMax   = 4096
	TopPMin        = 0.0
	TopPMax        = 1.0
)

// ValidateConfig admission-checks a node configuration for its type.
//
// Outputs:
//
//	bool - True when the configuration is acceptable.
//	string - Rejection reason naming the offending field otherwise.
func ValidateConfig(nodeType model.NodeType, config map[string]any) (bool, string) {
	switch nodeType {
	case model.NodeTypeExtractText:
		return validateExtractText(config)
	case model.NodeTypeGenerativeAI:
		return validateGenerative(config)
	case model.NodeTypeFormatter:
		return validateFormatter(config)
	case model.NodeTypeAgent:
		return agent.ValidateConfig(config)
	}
	return false, fmt.Sprintf("unsupported node type: %s", nodeType)
}

func validateExtractText(config map[string]any) (bool, string) {
	if raw, ok := config["file_id"]; ok {
		if _, isStr := raw.(string); !isStr {
			return false, "file_id must be a string"
		}
	}
	return true, ""
}

func validateGenerative(config map[string]any) (bool, string) {
	rawModel, ok := config["model"].(string)
	if !ok || rawModel == "" {
		return false, "generative_ai config missing required field: model"
	}
	if !generativeModelAllowed(rawModel) {
		return false, fmt.Sprintf("model must be one of: %s", strings.Join(GenerativeModels, ", "))
	}

	prompt, ok := config["prompt"].(string)
	if !ok || prompt == "" {
		return false, "generative_ai config missing required field: prompt"
	}
	if !strings.Contains(prompt, PromptPlaceholder) {
		return false, fmt.Sprintf("prompt must contain the %s placeholder", PromptPlaceholder)
	}

	if raw, ok := config["temperature"]; ok {
		f, isNum := floatValue(raw)
		if !isNum || f < TemperatureMin || f > TemperatureMax {
			return false, "temperature must be a number between 0 and 2"
		}
	}
	if raw, ok := config["max_tokens"]; ok {
		n, isInt := intValue(raw)
		if !isInt || n < MaxTokensMin || n > MaxTokensMax {
			return false, fmt.Sprintf("max_tokens must be an integer between %d and %d", MaxTokensMin, MaxTokensMax)
		}
	}
	if raw, ok := config["top_p"]; ok {
		f, isNum := floatValue(raw)
		if !isNum || f < TopPMin || f > TopPMax {
			return false, "top_p must be a number between 0 and 1"
		}
	}
	return true, ""
}

func validateFormatter(config map[string]any) (bool, string) {
	raw, ok := config["rules"]
	if !ok {
		return false, "formatter config missing required field: rules"
	}
	rules, isList := stringList(raw)
	if !isList {
		return false, "formatter rules must be a list of strings"
	}
	return format.ValidateRules(rules)
}

func generativeModelAllowed(name string) bool {
	for _, m := range GenerativeModels {
		if m == name {
			return true
		}
	}
	return false
}

// JSON decoding hands numbers over as float64; these helpers accept both
// native Go values and decoded ones.

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
