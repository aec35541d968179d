package domain

import (
	"encoding/json"
	"fmt"
)

// Expected is the canonical answer stored with an instance. Only the fields
// matching the instance kind are set.
type Expected struct {
	Choice      *int     `json:"choice,omitempty"`
	Choices     []int    `json:"choices,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Tolerance   float64  `json:"tolerance,omitempty"`
	Text        string   `json:"text,omitempty"`
	Accept      []string `json:"accept,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// Encode marshals the expected answer for storage
func (e Expected) Encode() json.RawMessage {
	data, err := json.Marshal(e)
	if err != nil {
		// Expected holds only plain values
		panic(fmt.Sprintf("encode expected: %v", err))
	}
	return data
}

// Answer is a learner submission. Kind must match the instance kind.
type Answer struct {
	Kind    Kind     `json:"kind"`
	Choice  *int     `json:"choice,omitempty"`
	Choices []int    `json:"choices,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Encode marshals the answer for the attempt log
func (a Answer) Encode() json.RawMessage {
	data, err := json.Marshal(a)
	if err != nil {
		panic(fmt.Sprintf("encode answer: %v", err))
	}
	return data
}
