// Package markdown flattens model output into plain text for WeChat
// replies. The chat window renders no markup, so headings become 【】
// brackets, list markers become bullets and emphasis is dropped.
package markdown

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// ToWeChatText converts markdown to WeChat-compatible plain text
func ToWeChatText(md string) string {
	if md == "" {
		return ""
	}

	parser := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := parser.Parse([]byte(md))

	var buf strings.Builder
	var listCounters []int

	root.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch node.Type {
		case blackfriday.Text:
			buf.Write(node.Literal)

		case blackfriday.Code:
			buf.Write(node.Literal)

		case blackfriday.CodeBlock:
			buf.Write(node.Literal)
			buf.WriteString("\n")

		case blackfriday.Heading:
			if entering {
				buf.WriteString("\n【")
			} else {
				buf.WriteString("】\n")
			}

		case blackfriday.Paragraph:
			if !entering {
				buf.WriteString("\n")
			}

		case blackfriday.List:
			if entering {
				listCounters = append(listCounters, 0)
			} else {
				listCounters = listCounters[:len(listCounters)-1]
				buf.WriteString("\n")
			}

		case blackfriday.Item:
			if entering {
				depth := len(listCounters) - 1
				listCounters[depth]++
				if node.ListData.ListFlags&blackfriday.ListTypeOrdered != 0 {
					buf.WriteString(fmt.Sprintf("%d. ", listCounters[depth]))
				} else {
					buf.WriteString("• ")
				}
			}

		case blackfriday.Softbreak, blackfriday.Hardbreak:
			buf.WriteString("\n")

		case blackfriday.HorizontalRule:
			buf.WriteString("\n")

		case blackfriday.Image:
			// Drop images entirely, alt text included
			return blackfriday.SkipChildren
		}
		return blackfriday.GoToNext
	})

	text := excessNewlines.ReplaceAllString(buf.String(), "\n\n")
	return strings.TrimSpace(text)
}
