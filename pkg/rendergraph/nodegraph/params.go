package nodegraph

import (
	"path"
	"strings"
)

// Params are the per-job values written into a workflow template.
// Zero fields are left untouched.
type Params struct {
	// Prompt is the positive prompt text.
	Prompt string
	// Seed is the sampler seed. Nil keeps the template's seed.
	Seed *int64
	// OutputDir is an optional sub-directory for saved images.
	OutputDir string
	// FilenamePrefix is the saved image prefix.
	FilenamePrefix string
	// Width and Height size the latent image.
	Width  int
	Height int
}

// Apply writes p into g.
//
// The prompt goes to the positive text encoder: the first CLIPTextEncode
// titled "Positive", else the first one with non-empty text, else the first
// one. The seed goes to every KSampler, the prefix to every SaveImage and
// the size to every latent-image node.
func Apply(g *Graph, p Params) error {
	if p.Prompt != "" {
		enc := positiveEncoder(g)
		if enc == nil {
			return ErrNoPromptNode
		}
		enc.Set("text", Literal(p.Prompt))
	}

	if p.Seed != nil {
		for _, n := range g.NodesOfClass(ClassSampler) {
			n.Set("seed", Literal(*p.Seed))
		}
	}

	if prefix := filenamePrefix(p.OutputDir, p.FilenamePrefix); prefix != "" {
		for _, n := range g.NodesOfClass(ClassSaveImage) {
			n.Set("filename_prefix", Literal(prefix))
		}
	}

	if p.Width > 0 || p.Height > 0 {
		for _, n := range append(g.NodesOfClass(ClassLatentSD3), g.NodesOfClass(ClassLatentImage)...) {
			if p.Width > 0 {
				n.Set("width", Literal(int64(p.Width)))
			}
			if p.Height > 0 {
				n.Set("height", Literal(int64(p.Height)))
			}
		}
	}

	return nil
}

func positiveEncoder(g *Graph) *Node {
	encoders := g.NodesOfClass(ClassTextEncode)
	if len(encoders) == 0 {
		return nil
	}
	for _, n := range encoders {
		if strings.Contains(strings.ToLower(n.Title), "positive") {
			return n
		}
	}
	for _, n := range encoders {
		if s, ok := n.Inputs["text"].Value().(string); ok && strings.TrimSpace(s) != "" {
			return n
		}
	}
	return encoders[0]
}

func filenamePrefix(dir, prefix string) string {
	switch {
	case prefix == "":
		return ""
	case dir == "":
		return prefix
	default:
		return path.Join(dir, prefix)
	}
}
