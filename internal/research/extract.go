package research

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"rsc.io/pdf"
)

const (
	titleRuneCap = 240
	pdfRuneCap   = 220_000
)

var errUnsupportedFormat = errors.New("unsupported content type")

// Elements whose text never belongs in a research digest.
var skippedElements = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "svg": {}, "iframe": {}, "head": {},
}

// Elements that break the text flow and get a newline.
var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "li": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"br": {}, "tr": {},
}

// documentText turns a fetched body into readable text plus a title for
// the formats worth summarizing. Binary formats other than PDF are
// refused rather than passed through as noise.
func documentText(contentType string, body []byte, maxRunes int) (title, text string, err error) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, parseErr := mime.ParseMediaType(mediaType); parseErr == nil {
		mediaType = parsed
	}

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		title, text, err = htmlToText(body)
	case mediaType == "application/json":
		text, err = jsonToText(body)
	case mediaType == "application/pdf":
		text, err = pdfToText(body)
	case strings.HasPrefix(mediaType, "text/"):
		text = collapseWhitespace(string(body))
	default:
		return "", "", errUnsupportedFormat
	}
	if err != nil {
		return "", "", err
	}

	title = trimToRunes(strings.TrimSpace(title), titleRuneCap)
	text = trimToRunes(collapseWhitespace(text), maxRunes)
	return title, text, nil
}

// jsonToText pretty-prints valid JSON so keys and values land on their
// own lines; anything else is treated as plain text.
func jsonToText(data []byte) (string, error) {
	if !json.Valid(data) {
		return collapseWhitespace(string(data)), nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		return "", err
	}
	return collapseWhitespace(pretty.String()), nil
}

func pdfToText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var out strings.Builder
	runes := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		for _, item := range page.Content().Text {
			chunk := strings.TrimSpace(item.S)
			if chunk == "" {
				continue
			}
			if out.Len() > 0 {
				out.WriteByte('\n')
				runes++
			}
			out.WriteString(chunk)
			runes += utf8.RuneCountInString(chunk)
			if runes >= pdfRuneCap {
				return trimToRunes(out.String(), pdfRuneCap), nil
			}
		}
	}
	return collapseWhitespace(out.String()), nil
}

func htmlToText(data []byte) (title, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	var out strings.Builder
	gatherText(doc, false, &out)
	return htmlTitle(doc), collapseWhitespace(out.String()), nil
}

func htmlTitle(node *html.Node) string {
	if node == nil {
		return ""
	}
	if node.Type == html.ElementNode && strings.EqualFold(node.Data, "title") {
		var out strings.Builder
		gatherText(node, false, &out)
		return strings.TrimSpace(out.String())
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := htmlTitle(child); found != "" {
			return found
		}
	}
	return ""
}

func gatherText(node *html.Node, skip bool, out *strings.Builder) {
	if node == nil {
		return
	}
	if node.Type == html.ElementNode {
		name := strings.ToLower(node.Data)
		if _, skipped := skippedElements[name]; skipped {
			skip = true
		}
		if _, block := blockElements[name]; block && out.Len() > 0 {
			out.WriteByte('\n')
		}
	}
	if node.Type == html.TextNode && !skip {
		if trimmed := strings.TrimSpace(node.Data); trimmed != "" {
			out.WriteString(trimmed)
			out.WriteByte(' ')
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		gatherText(child, skip, out)
	}
}

// collapseWhitespace squeezes runs of whitespace to single spaces and
// drops blank lines, keeping one line per block of text.
func collapseWhitespace(raw string) string {
	normalized := strings.ToValidUTF8(strings.ReplaceAll(raw, "\r\n", "\n"), "")

	lines := strings.Split(normalized, "\n")
	compact := lines[:0]
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		compact = append(compact, strings.Join(fields, " "))
	}
	return strings.Join(compact, "\n")
}
