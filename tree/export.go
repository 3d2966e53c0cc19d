package tree

import "strings"

const labelRunes = 50

// diagramEscaper rewrites characters that would end a Mermaid label early.
var diagramEscaper = strings.NewReplacer(
	"#", "#35;",
	`"`, "#quot;",
	"|", "#124;",
	"<", "#lt;",
	">", "#gt;",
)

// ExportDiagram renders the tree as a Mermaid flowchart. Tweet ids are the node
// identifiers; labels carry the author handle and the truncated text. Output
// depends only on the tree contents.
func (t *Tree) ExportDiagram() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	nodes := t.Traverse()
	for _, n := range nodes {
		b.WriteString("    ")
		b.WriteString(nodeKey(n))
		b.WriteString(`["`)
		b.WriteString(diagramLabel(n))
		b.WriteString("\"]\n")
	}
	for _, n := range nodes {
		for _, c := range n.Children {
			b.WriteString("    ")
			b.WriteString(nodeKey(n))
			b.WriteString(" --> ")
			b.WriteString(nodeKey(c))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ExportMarkdown wraps ExportDiagram in a fenced mermaid block.
func (t *Tree) ExportMarkdown() string {
	return "```mermaid\n" + t.ExportDiagram() + "```\n"
}

func nodeKey(n *Node) string {
	return n.ID()
}

// diagramLabel collapses whitespace (line breaks included) before truncating.
func diagramLabel(n *Node) string {
	text := strings.Join(strings.Fields(n.Tweet.BodyText), " ")
	if r := []rune(text); len(r) > labelRunes {
		text = string(r[:labelRunes]) + "..."
	}
	label := text
	if n.Tweet.Handle != "" {
		label = "@" + n.Tweet.Handle + ": " + text
	}
	return diagramEscaper.Replace(label)
}
