package workflow

import (
	"fmt"

	"pipemate/api/internal/block"
	"pipemate/api/internal/doctree"
	"pipemate/api/internal/yamlmeta"
)

// Encode renders doc as the YAML text that is stored: block style YAML with
// every x_ key commented out.
func Encode(doc *Document) (string, error) {
	out, err := doctree.EncodeYAML(doc.Tree())
	if err != nil {
		return "", err
	}
	return yamlmeta.Mask(string(out)), nil
}

// Decode reads stored YAML text back into a document, revealing the
// commented metadata first.
func Decode(text string) (*Document, error) {
	value, err := doctree.DecodeYAML([]byte(yamlmeta.Unhide(text)))
	if err != nil {
		return nil, conversionError(StageReverse, err)
	}
	tree, ok := value.(*doctree.Map)
	if !ok {
		return nil, conversionError(StageReverse, fmt.Errorf("document must be a mapping"))
	}
	doc, err := NewDocument(tree)
	if err != nil {
		return nil, conversionError(StageReverse, err)
	}
	return doc, nil
}

// ParseYAML decodes stored YAML text straight into a block list.
func ParseYAML(text string) ([]block.Block, error) {
	doc, err := Decode(text)
	if err != nil {
		return nil, err
	}
	return Reverse(doc), nil
}
