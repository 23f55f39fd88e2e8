package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gtext "github.com/yuin/goldmark/text"

	"grounded-rag/internal/models"
)

// markdownUnits parses markdown-ish text into structural units using
// the goldmark AST: headings, paragraphs, GFM tables and ordered lists
// are typed; everything else degrades to paragraphs. Plain prose with
// no markup comes back as paragraph units, so this is also the entry
// point for text extracted from PDF pages and DOCX bodies.
func markdownUnits(src string, page int) []models.StructuralUnit {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	source := []byte(src)
	doc := md.Parser().Parse(gtext.NewReader(source))

	var units []models.StructuralUnit
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		for _, u := range blockUnits(n, source, page) {
			units = append(units, u)
		}
	}
	return units
}

func blockUnits(n ast.Node, source []byte, page int) []models.StructuralUnit {
	switch node := n.(type) {
	case *ast.Heading:
		text := string(node.Text(source))
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []models.StructuralUnit{{
			Type:  models.UnitHeading,
			Text:  text,
			Level: node.Level,
			Page:  page,
		}}
	case *ast.List:
		if node.IsOrdered() {
			items := listItems(node, source)
			if len(items) == 0 {
				return nil
			}
			return []models.StructuralUnit{{
				Type:  models.UnitNumberedList,
				Items: items,
				Page:  page,
			}}
		}
		// Bullet lists have no intra-list ordering semantics; they are
		// plain paragraph content for chunking purposes.
		items := listItems(node, source)
		if len(items) == 0 {
			return nil
		}
		return []models.StructuralUnit{{
			Type: models.UnitParagraph,
			Text: "- " + strings.Join(items, "\n- "),
			Page: page,
		}}
	case *east.Table:
		rows := tableRows(node, source)
		if len(rows) == 0 {
			return nil
		}
		return []models.StructuralUnit{{
			Type: models.UnitTable,
			Rows: rows,
			Page: page,
		}}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		text := linesText(n, source)
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []models.StructuralUnit{{
			Type: models.UnitParagraph,
			Text: text,
			Page: page,
		}}
	case *ast.ThematicBreak:
		return nil
	default:
		text := string(n.Text(source))
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []models.StructuralUnit{{
			Type: models.UnitParagraph,
			Text: text,
			Page: page,
		}}
	}
}

func listItems(list *ast.List, source []byte) []string {
	var items []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		text := strings.TrimSpace(string(item.Text(source)))
		if text != "" {
			items = append(items, text)
		}
	}
	return items
}

func tableRows(tbl *east.Table, source []byte) [][]string {
	var rows [][]string
	for row := tbl.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(string(cell.Text(source))))
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return rows
}

func linesText(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimRight(b.String(), "\n")
}
