package style

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"div": true, "p": true, "section": true, "article": true, "header": true, "footer": true,
	"main": true, "nav": true, "aside": true, "form": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "figure": true, "fieldset": true, "hr": true,
	"dl": true, "dd": true, "dt": true, "details": true, "summary": true, "body": true, "html": true,
}

var hiddenTags = map[string]bool{
	"head": true, "script": true, "style": true, "title": true, "meta": true,
	"link": true, "noscript": true, "template": true,
}

var inlineBlockTags = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true, "img": true, "svg": true,
}

var tagFontScale = map[string]float64{
	"h1": 2, "h2": 1.5, "h3": 1.17, "h4": 1, "h5": 0.83, "h6": 0.67, "small": 0.83,
}

var boldTags = map[string]bool{
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"b": true, "strong": true, "th": true,
}

var fontKeywords = map[string]float64{
	"xx-small": 9, "x-small": 10, "small": 13, "medium": 16, "large": 18, "x-large": 24, "xx-large": 32,
}

var tagMargins = map[string]string{
	"p": "16px 0px", "ul": "16px 0px", "ol": "16px 0px", "blockquote": "16px 40px",
	"h1": "21.44px 0px", "h2": "19.92px 0px", "h3": "18.72px 0px", "h4": "21.28px 0px",
	"figure": "16px 40px", "body": "8px",
}

var tagPaddings = map[string]string{
	"ul": "0px 0px 0px 40px", "ol": "0px 0px 0px 40px",
	"button": "1px 6px", "input": "1px 2px",
}

func defaultFor(prop string, n *html.Node) string {
	tag := n.Data
	switch prop {
	case "display":
		switch {
		case hiddenTags[tag]:
			return "none"
		case tag == "li":
			return "list-item"
		case tag == "table":
			return "table"
		case tag == "tr":
			return "table-row"
		case tag == "td" || tag == "th":
			return "table-cell"
		case blockTags[tag]:
			return "block"
		case inlineBlockTags[tag]:
			return "inline-block"
		}
		return "inline"
	case "color":
		return "rgb(0, 0, 0)"
	case "font-family":
		return "sans-serif"
	case "font-size":
		if s, ok := tagFontScale[tag]; ok {
			return formatPx(16 * s)
		}
		return "16px"
	case "font-weight":
		if boldTags[tag] {
			return "700"
		}
		return "400"
	case "line-height":
		return "normal"
	case "margin":
		if v, ok := tagMargins[tag]; ok {
			return v
		}
		return "0px"
	case "padding":
		if v, ok := tagPaddings[tag]; ok {
			return v
		}
		return "0px"
	case "border-radius":
		return "0px"
	case "position":
		return "static"
	case "width", "height", "top", "left", "z-index":
		return "auto"
	case "opacity":
		return "1"
	}
	return ""
}

var namedColors = map[string]string{
	"black": "rgb(0, 0, 0)", "white": "rgb(255, 255, 255)", "red": "rgb(255, 0, 0)",
	"green": "rgb(0, 128, 0)", "blue": "rgb(0, 0, 255)", "gray": "rgb(128, 128, 128)",
	"grey": "rgb(128, 128, 128)", "yellow": "rgb(255, 255, 0)", "orange": "rgb(255, 165, 0)",
	"purple": "rgb(128, 0, 128)", "transparent": "rgba(0, 0, 0, 0)",
}

func isColor(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if _, ok := namedColors[v]; ok {
		return true
	}
	return strings.HasPrefix(v, "#") || strings.HasPrefix(v, "rgb") || strings.HasPrefix(v, "hsl") ||
		v == "currentcolor"
}

// normalizeColor converts hex and named colors to the rgb() form browsers
// report. Other notations pass through unchanged.
func normalizeColor(v string) string {
	v = strings.TrimSpace(v)
	lower := strings.ToLower(v)
	if c, ok := namedColors[lower]; ok {
		return c
	}
	if !strings.HasPrefix(lower, "#") {
		return v
	}
	hex := lower[1:]
	if len(hex) == 3 || len(hex) == 4 {
		var b strings.Builder
		for i := 0; i < len(hex); i++ {
			b.WriteByte(hex[i])
			b.WriteByte(hex[i])
		}
		hex = b.String()
	}
	if len(hex) != 6 && len(hex) != 8 {
		return v
	}
	var ch [4]uint64
	for i := 0; i < len(hex)/2; i++ {
		c, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return v
		}
		ch[i] = c
	}
	if len(hex) == 8 {
		return fmt.Sprintf("rgba(%d, %d, %d, %s)", ch[0], ch[1], ch[2],
			strconv.FormatFloat(float64(ch[3])/255, 'f', 2, 64))
	}
	return fmt.Sprintf("rgb(%d, %d, %d)", ch[0], ch[1], ch[2])
}
