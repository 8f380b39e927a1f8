// Package compose renders a proposal into the two artifacts the pipeline
// dispatches: the chat notification text and the markdown document that ends
// up in the docs repository.
package compose

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
	yaml "go.yaml.in/yaml/v3"

	"govbot/internal/proposal"
)

const (
	tallyURL    = "https://www.tally.xyz/gov/ens/proposal/"
	agoraURL    = "https://agora.ensdao.org/proposals/"
	snapshotURL = "https://snapshot.box/#/s:ens.eth/proposal/"
)

// ExtractTitle returns the text of the first depth-1 heading in the markdown
// body, if any. No heading is a valid outcome, not an error; callers must not
// synthesize one.
func ExtractTitle(body string) (string, bool) {
	title, _, ok := firstH1([]byte(body))
	return title, ok
}

// Notification builds the chat message. The exact line layout is relied on by
// channel readers and pinned by tests: headline, blank line, proposer line,
// link line. The title suffix appears only when a title was detected.
func Notification(ev proposal.Event, author, title string) string {
	headline := "*New Executable Proposal*"
	links := fmt.Sprintf("[Tally](%s%s) | [Agora](%s%s)", tallyURL, ev.ID, agoraURL, ev.ID)
	if ev.Source == proposal.OffChain {
		headline = "*New Social Proposal*"
		links = fmt.Sprintf("[Snapshot](%s%s)", snapshotURL, ev.ID)
	}
	if title != "" {
		headline += ": " + title
	}
	return headline + "\n\nProposer: " + author + "\n" + links
}

type frontMatter struct {
	Authors  []string `yaml:"authors"`
	Proposal struct {
		Type string `yaml:"type"`
	} `yaml:"proposal"`
}

// Document builds the canonical markdown document: a fixed-schema front
// matter block followed by the proposal body. When the body opens with a
// depth-1 heading, an authorship marker is spliced in directly beneath it.
func Document(ev proposal.Event, author, title string) string {
	body := normalize(ev.Body)

	if title != "" {
		body = insertBelowH1(body, "*Authored by "+author+"*")
	}

	var fm frontMatter
	fm.Authors = []string{author}
	fm.Proposal.Type = "executable"
	if ev.Source == proposal.OffChain {
		fm.Proposal.Type = "social"
	}
	head, err := yaml.Marshal(&fm)
	if err != nil {
		// frontMatter has no unmarshalable fields; this cannot happen.
		head = nil
	}

	return "---\n" + string(head) + "---\n\n" + body
}

// normalize converts line endings to LF and guarantees a single trailing
// newline, standing in for the docs repo's markdown formatter.
func normalize(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.TrimRight(body, "\n") + "\n"
}

// firstH1 locates the first depth-1 heading. It returns the heading text and
// the byte offset just past the heading's content.
func firstH1(src []byte) (title string, end int, ok bool) {
	doc := goldmark.DefaultParser().Parse(gtext.NewReader(src))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, isHeading := n.(*ast.Heading)
		if !isHeading || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		lines := h.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
			end = seg.Stop
		}
		title = strings.TrimSpace(buf.String())
		ok = true
		return ast.WalkStop, nil
	})
	return title, end, ok
}

// insertBelowH1 splices marker in as its own paragraph right after the first
// depth-1 heading's line. Bodies without such a heading pass through
// untouched.
func insertBelowH1(body, marker string) string {
	_, end, ok := firstH1([]byte(body))
	if !ok {
		return body
	}
	if nl := strings.IndexByte(body[end:], '\n'); nl >= 0 {
		end += nl
	} else {
		end = len(body)
	}
	// Setext headings put their underline on the following line; the marker
	// goes after it, not between text and underline.
	if rest := body[end:]; strings.HasPrefix(rest, "\n") {
		line := rest[1:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		if isSetextUnderline(line) {
			end += 1 + len(line)
		}
	}
	return body[:end] + "\n\n" + marker + body[end:]
}

func isSetextUnderline(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if r != '=' {
			return false
		}
	}
	return true
}
