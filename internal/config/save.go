package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// SaveStages updates the stages section in the config file.
// This preserves comments and formatting in other sections by using yaml.Node.
func SaveStages(configPath string, stages []StageConfig) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	stagesNode := buildStagesNode(stages)

	if doc.Kind == 0 {
		// Empty or new file - create document structure
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						scalar("stages"),
						stagesNode,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind != yaml.MappingNode {
			return fmt.Errorf("parsing config: top level is not a mapping")
		}
		found := false
		for i := 0; i < len(root.Content)-1; i += 2 {
			if root.Content[i].Value == "stages" {
				root.Content[i+1] = stagesNode
				found = true
				break
			}
		}
		if !found {
			root.Content = append(root.Content, scalar("stages"), stagesNode)
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	return WriteFileAtomic(configPath, buf.Bytes())
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, creating the parent directory if needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func boolNode(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}

func uintNode(v uint32) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatUint(uint64(v), 10)}
}

// buildStagesNode creates a yaml.Node representing the stages array.
// False flags and zero video are omitted.
func buildStagesNode(stages []StageConfig) *yaml.Node {
	node := &yaml.Node{
		Kind:    yaml.SequenceNode,
		Content: make([]*yaml.Node, 0, len(stages)),
	}

	for _, st := range stages {
		stNode := &yaml.Node{Kind: yaml.MappingNode}
		stNode.Content = append(stNode.Content, scalar("name"), scalar(st.Name))

		if st.Private {
			stNode.Content = append(stNode.Content, scalar("private"), boolNode(true))
		}
		if st.MixAudio {
			stNode.Content = append(stNode.Content, scalar("mix_audio"), boolNode(true))
		}
		if st.Ephemeral {
			stNode.Content = append(stNode.Content, scalar("ephemeral"), boolNode(true))
		}
		if !st.Video.IsZero() {
			stNode.Content = append(stNode.Content, scalar("video"), buildVideoNode(st.Video))
		}
		if len(st.Outputs) > 0 {
			stNode.Content = append(stNode.Content, scalar("outputs"), buildOutputsNode(st.Outputs))
		}

		node.Content = append(node.Content, stNode)
	}

	return node
}

func buildVideoNode(v VideoConfig) *yaml.Node {
	return &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			scalar("base_width"), uintNode(v.BaseWidth),
			scalar("base_height"), uintNode(v.BaseHeight),
			scalar("output_width"), uintNode(v.OutputWidth),
			scalar("output_height"), uintNode(v.OutputHeight),
			scalar("fps_num"), uintNode(v.FPSNum),
			scalar("fps_den"), uintNode(v.FPSDen),
		},
	}
}

func buildOutputsNode(outputs []OutputConfig) *yaml.Node {
	node := &yaml.Node{Kind: yaml.SequenceNode}
	for _, o := range outputs {
		oNode := &yaml.Node{Kind: yaml.MappingNode}
		oNode.Content = append(oNode.Content, scalar("name"), scalar(o.Name))
		if o.Autostart {
			oNode.Content = append(oNode.Content, scalar("autostart"), boolNode(true))
		}
		node.Content = append(node.Content, oNode)
	}
	return node
}
