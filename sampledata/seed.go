// Package sampledata supplies the canned data the rule store and the
// analytics views start from: seed rules and a synthetic performance generator.
package sampledata

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/fraudrules/rules"
)

//go:embed rules.yaml
var seedYAML []byte

// Rules returns the embedded seed collection. It panics if the embedded file
// is malformed, which the package tests guard against.
func Rules() []rules.RuleInput {
	seeds, err := DecodeRules(bytes.NewReader(seedYAML))
	if err != nil {
		panic(fmt.Sprintf("sampledata: embedded seed rules: %v", err))
	}
	return seeds
}

// Seed is a rules.SeedSource over the embedded collection
var Seed rules.SeedSource = rules.SeedFunc(Rules)

// DecodeRules reads a YAML (or JSON) list of loosely shaped rules.
// Documents go through JSON so the rules package's tolerant decoders apply.
func DecodeRules(r io.Reader) ([]rules.RuleInput, error) {
	var doc []any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return []rules.RuleInput{}, nil
		}
		return nil, fmt.Errorf("failed to decode seed rules: %w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode seed rules: %w", err)
	}

	var out []rules.RuleInput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to map seed rules: %w", err)
	}
	if out == nil {
		out = []rules.RuleInput{}
	}
	return out, nil
}
