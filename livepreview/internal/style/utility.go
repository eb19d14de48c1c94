package style

import (
	"strconv"
	"strings"

	"github.com/aymerick/douceur/css"
)

// Utility classes: the subset of Tailwind-style utilities generated UIs
// lean on, resolved to plain declarations. Variant-prefixed classes
// (hover:, md:, dark:) describe inactive states and contribute nothing.

var palette = map[string][10]string{
	"slate":  {"f8fafc", "f1f5f9", "e2e8f0", "cbd5e1", "94a3b8", "64748b", "475569", "334155", "1e293b", "0f172a"},
	"gray":   {"f9fafb", "f3f4f6", "e5e7eb", "d1d5db", "9ca3af", "6b7280", "4b5563", "374151", "1f2937", "111827"},
	"red":    {"fef2f2", "fee2e2", "fecaca", "fca5a5", "f87171", "ef4444", "dc2626", "b91c1c", "991b1b", "7f1d1d"},
	"orange": {"fff7ed", "ffedd5", "fed7aa", "fdba74", "fb923c", "f97316", "ea580c", "c2410c", "9a3412", "7c2d12"},
	"yellow": {"fefce8", "fef9c3", "fef08a", "fde047", "facc15", "eab308", "ca8a04", "a16207", "854d0e", "713f12"},
	"green":  {"f0fdf4", "dcfce7", "bbf7d0", "86efac", "4ade80", "22c55e", "16a34a", "15803d", "166534", "14532d"},
	"blue":   {"eff6ff", "dbeafe", "bfdbfe", "93c5fd", "60a5fa", "3b82f6", "2563eb", "1d4ed8", "1e40af", "1e3a8a"},
	"indigo": {"eef2ff", "e0e7ff", "c7d2fe", "a5b4fc", "818cf8", "6366f1", "4f46e5", "4338ca", "3730a3", "312e81"},
	"purple": {"faf5ff", "f3e8ff", "e9d5ff", "d8b4fe", "c084fc", "a855f7", "9333ea", "7e22ce", "6b21a8", "581c87"},
	"pink":   {"fdf2f8", "fce7f3", "fbcfe8", "f9a8d4", "f472b6", "ec4899", "db2777", "be185d", "9d174d", "831843"},
}

var textSizes = map[string][2]string{
	"xs": {"12px", "16px"}, "sm": {"14px", "20px"}, "base": {"16px", "24px"},
	"lg": {"18px", "28px"}, "xl": {"20px", "28px"}, "2xl": {"24px", "32px"},
	"3xl": {"30px", "36px"}, "4xl": {"36px", "40px"}, "5xl": {"48px", "1"}, "6xl": {"60px", "1"},
}

var fontWeights = map[string]string{
	"thin": "100", "extralight": "200", "light": "300", "normal": "400",
	"medium": "500", "semibold": "600", "bold": "700", "extrabold": "800", "black": "900",
}

var radii = map[string]string{
	"rounded-none": "0px", "rounded-sm": "2px", "rounded": "4px", "rounded-md": "6px",
	"rounded-lg": "8px", "rounded-xl": "12px", "rounded-2xl": "16px", "rounded-3xl": "24px",
	"rounded-full": "9999px",
}

var keywordUtilities = map[string][][2]string{
	"block":        {{"display", "block"}},
	"inline-block": {{"display", "inline-block"}},
	"inline":       {{"display", "inline"}},
	"flex":         {{"display", "flex"}},
	"inline-flex":  {{"display", "inline-flex"}},
	"grid":         {{"display", "grid"}},
	"table":        {{"display", "table"}},
	"hidden":       {{"display", "none"}},
	"static":       {{"position", "static"}},
	"relative":     {{"position", "relative"}},
	"absolute":     {{"position", "absolute"}},
	"fixed":        {{"position", "fixed"}},
	"sticky":       {{"position", "sticky"}},
	"border":       {{"border-width", "1px"}, {"border-style", "solid"}, {"border-color", "#e5e7eb"}},
	"mx-auto":      {{"margin-left", "auto"}, {"margin-right", "auto"}},
	"w-full":       {{"width", "100%"}},
	"h-full":       {{"height", "100%"}},
	"w-screen":     {{"width", "100vw"}},
	"h-screen":     {{"height", "100vh"}},
	"w-auto":       {{"width", "auto"}},
	"h-auto":       {{"height", "auto"}},
	"inset-0":      {{"top", "0px"}, {"left", "0px"}},
	"bg-white":     {{"background-color", "#ffffff"}},
	"bg-black":     {{"background-color", "#000000"}},
	"text-white":   {{"color", "#ffffff"}},
	"text-black":   {{"color", "#000000"}},
	"font-sans":    {{"font-family", "ui-sans-serif, system-ui, sans-serif"}},
	"font-serif":   {{"font-family", "ui-serif, Georgia, serif"}},
	"font-mono":    {{"font-family", "ui-monospace, monospace"}},

	"bg-transparent": {{"background-color", "transparent"}},
}

var spacingProps = map[string][]string{
	"p":  {"padding"},
	"px": {"padding-left", "padding-right"},
	"py": {"padding-top", "padding-bottom"},
	"pt": {"padding-top"}, "pr": {"padding-right"}, "pb": {"padding-bottom"}, "pl": {"padding-left"},
	"m":  {"margin"},
	"mx": {"margin-left", "margin-right"},
	"my": {"margin-top", "margin-bottom"},
	"mt": {"margin-top"}, "mr": {"margin-right"}, "mb": {"margin-bottom"}, "ml": {"margin-left"},
	"w": {"width"}, "h": {"height"}, "top": {"top"}, "left": {"left"},
}

func utilityDeclarations(class string) []*css.Declaration {
	if strings.Contains(class, ":") {
		return nil
	}
	var out []*css.Declaration
	emit := func(prop, value string) {
		out = append(out, &css.Declaration{Property: prop, Value: value})
	}

	if kv, ok := keywordUtilities[class]; ok {
		for _, d := range kv {
			emit(d[0], d[1])
		}
		return out
	}
	if v, ok := radii[class]; ok {
		emit("border-radius", v)
		return out
	}

	// Arbitrary values: w-[33%], bg-[#1da1f2], text-[22px].
	if i := strings.Index(class, "-["); i > 0 && strings.HasSuffix(class, "]") {
		prefix, value := class[:i], class[i+2:len(class)-1]
		value = strings.ReplaceAll(value, "_", " ")
		switch {
		case prefix == "bg":
			emit("background-color", value)
		case prefix == "text" && isColor(value):
			emit("color", value)
		case prefix == "text":
			emit("font-size", value)
		default:
			for _, p := range spacingProps[prefix] {
				emit(p, value)
			}
		}
		return out
	}

	prefix, rest, ok := strings.Cut(class, "-")
	if !ok {
		return nil
	}
	negative := false
	if prefix == "" { // -mt-4
		negative = true
		prefix, rest, ok = strings.Cut(rest, "-")
		if !ok {
			return nil
		}
	}

	switch prefix {
	case "text":
		if sz, ok := textSizes[rest]; ok {
			emit("font-size", sz[0])
			emit("line-height", sz[1])
			return out
		}
		if c, ok := paletteColor(rest); ok {
			emit("color", c)
		}
		return out
	case "bg":
		if c, ok := paletteColor(rest); ok {
			emit("background-color", c)
		}
		return out
	case "font":
		if w, ok := fontWeights[rest]; ok {
			emit("font-weight", w)
		}
		return out
	case "border":
		if n, err := strconv.Atoi(rest); err == nil {
			emit("border-width", strconv.Itoa(n)+"px")
			emit("border-style", "solid")
			return out
		}
		if c, ok := paletteColor(rest); ok {
			emit("border-color", c)
		}
		return out
	case "opacity":
		if n, err := strconv.Atoi(rest); err == nil {
			emit("opacity", strconv.FormatFloat(float64(n)/100, 'f', -1, 64))
		}
		return out
	case "z":
		if _, err := strconv.Atoi(rest); err == nil {
			emit("z-index", rest)
		}
		return out
	}

	props, ok := spacingProps[prefix]
	if !ok {
		return nil
	}
	v, ok := spacing(rest)
	if !ok {
		return nil
	}
	if negative && v != "0px" {
		v = "-" + v
	}
	for _, p := range props {
		emit(p, v)
	}
	return out
}

// spacing maps the utility scale (1 unit = 4px) to a length.
func spacing(s string) (string, bool) {
	switch s {
	case "px":
		return "1px", true
	case "auto":
		return "auto", true
	case "full":
		return "100%", true
	}
	if num, den, frac := strings.Cut(s, "/"); frac {
		a, err1 := strconv.ParseFloat(num, 64)
		b, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || b == 0 {
			return "", false
		}
		return strconv.FormatFloat(a/b*100, 'f', -1, 64) + "%", true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}
	return formatPx(f * 4), true
}

func paletteColor(s string) (string, bool) {
	name, shade, ok := strings.Cut(s, "-")
	if !ok {
		return "", false
	}
	shades, ok := palette[name]
	if !ok {
		return "", false
	}
	n, err := strconv.Atoi(shade)
	if err != nil {
		return "", false
	}
	idx := n / 100
	if n == 50 {
		idx = 0
	}
	if idx < 0 || idx > 9 || (n != 50 && n%100 != 0) {
		return "", false
	}
	return "#" + shades[idx], true
}
