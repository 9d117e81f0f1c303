package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nikhilbhutani/docissue/internal/substitute"
)

// RichText lays substituted markup out on one fixed-size page through a
// headless engine session.
type RichText struct {
	engine    Engine
	page      PageSize
	placement Placement
}

func NewRichText(engine Engine, page PageSize, placement Placement) *RichText {
	return &RichText{engine: engine, page: page, placement: placement}
}

func (r *RichText) Render(ctx context.Context, req Request) (*Output, error) {
	markup := substitute.Substitute(req.Template.Content, req.Data)
	doc, err := r.prepare(markup, req.QR)
	if err != nil {
		return nil, err
	}

	sess, err := r.engine.Acquire(ctx)
	if err != nil {
		return nil, &Error{Reason: ReasonEngine, Err: err}
	}
	defer sess.Close()

	data, err := sess.PrintPDF(doc, r.page)
	if err != nil {
		return nil, &Error{Reason: ReasonEngine, Err: err}
	}

	pages, err := pageCount(data)
	if err != nil {
		return nil, &Error{Reason: ReasonEngine, Err: err}
	}
	if pages != 1 {
		return nil, errorf(ReasonOverflow, "layout produced %d pages", pages)
	}

	return &Output{
		Data:        data,
		ContentType: ContentTypePDF,
		WidthPt:     r.page.WidthIn * 72,
		HeightPt:    r.page.HeightIn * 72,
	}, nil
}

// prepare validates markup and returns the document handed to the engine:
// the page stylesheet is prepended to <head> and the QR overlay, if any, is
// appended to <body>.
func (r *RichText) prepare(markup string, qr *QRSpec) (string, error) {
	if strings.TrimSpace(markup) == "" {
		return "", errorf(ReasonMalformedMarkup, "empty markup")
	}
	if err := checkBalanced(markup); err != nil {
		return "", &Error{Reason: ReasonMalformedMarkup, Err: err}
	}

	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", &Error{Reason: ReasonMalformedMarkup, Err: err}
	}
	head := findElement(root, atom.Head)
	body := findElement(root, atom.Body)
	if head == nil || body == nil {
		return "", errorf(ReasonMalformedMarkup, "document has no head or body")
	}

	style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: r.pageCSS()})
	head.InsertBefore(style, head.FirstChild)

	if qr != nil {
		body.AppendChild(r.qrNode(qr))
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", &Error{Reason: ReasonMalformedMarkup, Err: err}
	}
	return buf.String(), nil
}

func (r *RichText) pageCSS() string {
	return fmt.Sprintf(
		"@page{size:%.2fin %.2fin;margin:0}"+
			"html,body{margin:0;padding:0}"+
			"body{position:relative;width:%.2fin;min-height:%.2fin}",
		r.page.WidthIn, r.page.HeightIn, r.page.WidthIn, r.page.HeightIn)
}

func (r *RichText) qrNode(qr *QRSpec) *html.Node {
	var style string
	if p := qr.Position; p != nil {
		size := p.Size
		if size <= 0 {
			size = r.placement.Size
		}
		style = fmt.Sprintf("left:%.0fpx;top:%.0fpx;width:%.0fpx;height:%.0fpx", p.X, p.Y, size, size)
	} else {
		style = fmt.Sprintf("right:%.0fpx;bottom:%.0fpx;width:%.0fpx;height:%.0fpx",
			r.placement.Offset, r.placement.Offset, r.placement.Size, r.placement.Size)
	}
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "img",
		DataAtom: atom.Img,
		Attr: []html.Attribute{
			{Key: "class", Val: "verification-qr"},
			{Key: "alt", Val: "Verification QR code"},
			{Key: "src", Val: "data:image/png;base64," + base64.StdEncoding.EncodeToString(qr.PNG)},
			{Key: "style", Val: "position:absolute;z-index:2147483647;" + style},
		},
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true,
	"track": true, "wbr": true,
}

// Elements whose end tag HTML lets authors omit.
var optionalClose = map[string]bool{
	"p": true, "li": true, "td": true, "th": true, "tr": true, "thead": true,
	"tbody": true, "tfoot": true, "dt": true, "dd": true, "option": true,
	"html": true, "head": true, "body": true, "colgroup": true,
}

// checkBalanced rejects stray or misnested end tags and unclosed elements
// whose end tag is required.
func checkBalanced(markup string) error {
	z := html.NewTokenizer(strings.NewReader(markup))
	var stack []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return z.Err()
			}
			for i := len(stack) - 1; i >= 0; i-- {
				if !optionalClose[stack[i]] {
					return fmt.Errorf("unclosed <%s>", stack[i])
				}
			}
			return nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); !voidElements[tag] {
				stack = append(stack, tag)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if voidElements[tag] {
				continue
			}
			i := len(stack) - 1
			for i >= 0 && stack[i] != tag {
				if !optionalClose[stack[i]] {
					return fmt.Errorf("unexpected </%s> inside <%s>", tag, stack[i])
				}
				i--
			}
			if i < 0 {
				return fmt.Errorf("unexpected </%s>", tag)
			}
			stack = stack[:i]
		}
	}
}
