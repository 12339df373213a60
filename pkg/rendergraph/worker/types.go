package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Submission is the worker's answer to an accepted graph.
type Submission struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
	// NodeErrors can be non-empty on acceptance when only some outputs
	// failed validation.
	NodeErrors map[string]NodeError `json:"node_errors,omitempty"`
}

// NodeError lists validation problems on one node.
type NodeError struct {
	ClassType        string        `json:"class_type"`
	Errors           []ErrorDetail `json:"errors"`
	DependentOutputs []string      `json:"dependent_outputs,omitempty"`
}

// ErrorDetail is one validation or execution problem.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Queue lists prompt ids the worker is running and holding.
type Queue struct {
	Running []string
	Pending []string
}

// Len is the number of queued prompts, running included.
func (q Queue) Len() int {
	return len(q.Running) + len(q.Pending)
}

// Contains reports whether id is running or pending.
func (q Queue) Contains(id string) bool {
	for _, ids := range [][]string{q.Running, q.Pending} {
		for _, v := range ids {
			if v == id {
				return true
			}
		}
	}
	return false
}

// HistoryEntry is the recorded result of one prompt.
type HistoryEntry struct {
	PromptID string                     `json:"-"`
	Status   HistoryStatus              `json:"status"`
	Outputs  map[string]NodeOutputs     `json:"outputs"`
	Meta     map[string]json.RawMessage `json:"meta,omitempty"`
}

// HistoryStatus is the execution status block of a history entry.
type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages,omitempty"`
}

// Failed reports whether the worker recorded an execution error.
func (s HistoryStatus) Failed() bool {
	return s.StatusStr == "error"
}

// ErrorMessage extracts the exception text of an execution_error message.
func (s HistoryStatus) ErrorMessage() string {
	for _, raw := range s.Messages {
		var msg []json.RawMessage
		if err := json.Unmarshal(raw, &msg); err != nil || len(msg) != 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(msg[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var body struct {
			NodeID           string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(msg[1], &body); err != nil {
			continue
		}
		if body.NodeID == "" {
			return strings.TrimSpace(body.ExceptionMessage)
		}
		return fmt.Sprintf("node %s (%s): %s", body.NodeID, body.NodeType, strings.TrimSpace(body.ExceptionMessage))
	}
	return ""
}

// NodeOutputs are the artifacts one output node produced.
type NodeOutputs struct {
	Images []Image `json:"images,omitempty"`
}

// Image names one saved file relative to the worker output directory.
type Image struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Images returns every image in the entry, ordered by output node id.
func (h *HistoryEntry) Images() []Image {
	var out []Image
	for _, id := range sortedKeys(h.Outputs) {
		out = append(out, h.Outputs[id].Images...)
	}
	return out
}

// SystemStats is the worker's self-description from /system_stats.
type SystemStats struct {
	System  map[string]any `json:"system"`
	Devices []Device       `json:"devices"`
}

// Device is one compute device known to the worker.
type Device struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Index     int    `json:"index"`
	VRAMTotal int64  `json:"vram_total"`
	VRAMFree  int64  `json:"vram_free"`
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %d/%d MiB free)", d.Name, d.Type, d.VRAMFree>>20, d.VRAMTotal>>20)
}
