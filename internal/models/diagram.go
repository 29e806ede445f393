package models

// DiagramAsset is one manifest entry mapping a logical reference used
// inside Markdown to its rendered asset paths.
type DiagramAsset struct {
	Name     string `json:"name"`
	Source   string `json:"source"` // relative path to the .puml source
	PNG      string `json:"png,omitempty"`
	SVG      string `json:"svg,omitempty"`
	Rendered bool   `json:"rendered"`
}

// DiagramManifest is diagrams/index.json.
type DiagramManifest struct {
	Assets []DiagramAsset `json:"assets"`
}

// Total returns the number of diagrams the manifest names.
func (m DiagramManifest) Total() int { return len(m.Assets) }
