// Package barcode issues the numbers printed on entry tickets.
package barcode

import (
	"github.com/bwmarrin/snowflake"
)

type Generator struct {
	node *snowflake.Node
}

// New returns a generator for one gate node (0..1023). Each gate must use a
// distinct node to keep barcodes unique across the facility.
func New(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, err
	}
	return &Generator{node: n}, nil
}

func (g *Generator) Next() string {
	return g.node.Generate().String()
}
