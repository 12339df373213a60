package rendergraph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/chain"
)

// batchFile is the on-disk batch format:
//
//	id: nightly
//	keep_worker: false
//	tasks:
//	  - id: ideas
//	    phase: compute
//	    compute:
//	      prompt: Write three short image prompts about lighthouses.
//	      count: 3
//	  - id: lighthouse-1
//	    phase: render
//	    best_effort: true
//	    render:
//	      prompt_from: ideas
//	      prompt_index: 1
//	      modifiers: ["film_grain:0.6", "watercolor:1.0:0.8"]
//	      seed: 42
//	      filename_prefix: lighthouse
type batchFile struct {
	ID         string     `yaml:"id"`
	KeepWorker bool       `yaml:"keep_worker"`
	Tasks      []taskFile `yaml:"tasks"`
}

type taskFile struct {
	ID         string `yaml:"id"`
	Phase      Phase  `yaml:"phase"`
	BestEffort bool   `yaml:"best_effort"`

	Compute *struct {
		Prompt      string  `yaml:"prompt"`
		System      string  `yaml:"system"`
		Count       int     `yaml:"count"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"compute"`

	Render *struct {
		Prompt         string   `yaml:"prompt"`
		PromptFrom     string   `yaml:"prompt_from"`
		PromptIndex    int      `yaml:"prompt_index"`
		Modifiers      []string `yaml:"modifiers"`
		Seed           *int64   `yaml:"seed"`
		FilenamePrefix string   `yaml:"filename_prefix"`
		OutputDir      string   `yaml:"output_dir"`
		Width          int      `yaml:"width"`
		Height         int      `yaml:"height"`
	} `yaml:"render"`
}

// ParseBatch decodes a YAML (or JSON) batch definition. Modifier strings
// use the name[:model[:clip]] form.
func ParseBatch(data []byte) (Batch, error) {
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Batch{}, fmt.Errorf("parse batch: %w", err)
	}

	b := Batch{ID: f.ID, KeepWorker: f.KeepWorker, Tasks: make([]Task, 0, len(f.Tasks))}
	for i, tf := range f.Tasks {
		t := Task{ID: tf.ID, Phase: tf.Phase, BestEffort: tf.BestEffort}
		if c := tf.Compute; c != nil {
			t.Compute = &ComputeInput{
				Prompt:      c.Prompt,
				System:      c.System,
				Count:       c.Count,
				MaxTokens:   c.MaxTokens,
				Temperature: c.Temperature,
			}
		}
		if rf := tf.Render; rf != nil {
			specs, err := chain.ParseSpecs(rf.Modifiers)
			if err != nil {
				return Batch{}, fmt.Errorf("task %d (%s): %w", i, tf.ID, err)
			}
			t.Render = &RenderInput{
				Prompt:         rf.Prompt,
				PromptFrom:     rf.PromptFrom,
				PromptIndex:    rf.PromptIndex,
				Modifiers:      specs,
				Seed:           rf.Seed,
				FilenamePrefix: rf.FilenamePrefix,
				OutputDir:      rf.OutputDir,
				Width:          rf.Width,
				Height:         rf.Height,
			}
		}
		b.Tasks = append(b.Tasks, t)
	}
	return b, nil
}

// LoadBatchFile reads a batch definition from path.
func LoadBatchFile(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("read batch file: %w", err)
	}
	return ParseBatch(data)
}
