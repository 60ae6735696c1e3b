package ops

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// StringXOps returns the extended string pack: regex, formatting, case
// conversion, encoding, and hashing.
func StringXOps() []Op {
	return []Op{
		NewHandler("replace", "replace occurrences of a literal substring", opReplace),
		NewHandler("regex_match", "match text against a regular expression", opRegexMatch),
		NewHandler("regex_replace", "replace regex matches in text", opRegexReplace),
		NewHandler("format", "fill {key} placeholders from a values object", opFormat),
		NewHandler("trim", "strip characters from text edges", opTrim),
		NewHandler("case", "convert text case (upper/lower/title/capitalize/snake/camel)", opCase),
		NewHandler("substring", "slice text by start/end or start/length", opSubstring),
		NewHandler("encode_decode", "encode or decode text (base64/url/hex/html)", opEncodeDecode),
		NewHandler("hash", "hash text (md5/sha1/sha256/sha512), hex output", opHash),
	}
}

func opReplace(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	text := stringParam(a, "text", "")
	find := stringParam(a, "find", "")
	replaceWith := stringParam(a, "replace", "")
	count := intParam(a, "count", -1)

	var result string
	if count < 0 {
		result = strings.ReplaceAll(text, find, replaceWith)
	} else {
		result = strings.Replace(text, find, replaceWith, count)
	}

	replacements := strings.Count(text, find)
	if count >= 0 && count < replacements {
		replacements = count
	}
	return map[string]any{"result": result, "count": float64(replacements)}, nil
}

func compileWithFlags(pattern, flags string) (*regexp.Regexp, error) {
	var prefix string
	if strings.Contains(flags, "i") {
		prefix += "i"
	}
	if strings.Contains(flags, "m") {
		prefix += "m"
	}
	if strings.Contains(flags, "s") {
		prefix += "s"
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func opRegexMatch(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	text := stringParam(a, "text", "")
	pattern := stringParam(a, "pattern", "")
	re, err := compileWithFlags(pattern, stringParam(a, "flags", ""))
	if err != nil {
		return map[string]any{"matched": false, "error": err.Error()}, nil
	}

	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return map[string]any{"matched": false, "text": nil, "groups": []any{}}, nil
	}

	groups := []any{}
	for g := 1; g*2 < len(loc); g++ {
		if loc[2*g] == -1 {
			groups = append(groups, nil)
		} else {
			groups = append(groups, text[loc[2*g]:loc[2*g+1]])
		}
	}
	return map[string]any{
		"matched": true,
		"text":    text[loc[0]:loc[1]],
		"groups":  groups,
		"start":   float64(loc[0]),
		"end":     float64(loc[1]),
	}, nil
}

// groupRefPattern rewrites \1-style backreferences to Go's ${1} form.
var groupRefPattern = regexp.MustCompile(`\\(\d+)`)

func opRegexReplace(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	text := stringParam(a, "text", "")
	pattern := stringParam(a, "pattern", "")
	replacement := stringParam(a, "replacement", "")
	count := intParam(a, "count", 0)

	re, err := compileWithFlags(pattern, stringParam(a, "flags", ""))
	if err != nil {
		return map[string]any{"result": text, "count": float64(0), "error": err.Error()}, nil
	}
	replacement = groupRefPattern.ReplaceAllString(replacement, "${$1}")

	if count <= 0 {
		n := len(re.FindAllStringIndex(text, -1))
		return map[string]any{"result": re.ReplaceAllString(text, replacement), "count": float64(n)}, nil
	}

	// Bounded replacement: expand the first count matches manually.
	var b strings.Builder
	remaining := text
	replaced := 0
	for replaced < count {
		loc := re.FindStringSubmatchIndex(remaining)
		if loc == nil {
			break
		}
		b.WriteString(remaining[:loc[0]])
		b.Write(re.ExpandString(nil, replacement, remaining, loc))
		if loc[1] == loc[0] {
			if loc[1] >= len(remaining) {
				remaining = remaining[loc[1]:]
				replaced++
				break
			}
			b.WriteString(remaining[loc[1] : loc[1]+1])
			remaining = remaining[loc[1]+1:]
		} else {
			remaining = remaining[loc[1]:]
		}
		replaced++
	}
	b.WriteString(remaining)
	return map[string]any{"result": b.String(), "count": float64(replaced)}, nil
}

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

func opFormat(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	template := stringParam(a, "template", "")
	values, _ := a["values"].(map[string]any)
	safe := boolParam(a, "safe", true)

	missing := ""
	result := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := values[key]; ok {
			return stringify(v)
		}
		if missing == "" {
			missing = key
		}
		return m
	})
	if missing != "" && !safe {
		return map[string]any{"result": template, "error": fmt.Sprintf("missing key %q", missing)}, nil
	}
	return map[string]any{"result": result}, nil
}

func opTrim(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	text := stringParam(a, "text", "")
	mode := stringParam(a, "mode", "both")
	chars := stringParam(a, "chars", "")

	var result string
	switch {
	case chars == "" && mode == "both":
		result = strings.TrimSpace(text)
	case chars == "":
		cut := " \t\n\r\v\f"
		if mode == "left" {
			result = strings.TrimLeft(text, cut)
		} else {
			result = strings.TrimRight(text, cut)
		}
	case mode == "left":
		result = strings.TrimLeft(text, chars)
	case mode == "right":
		result = strings.TrimRight(text, chars)
	default:
		result = strings.Trim(text, chars)
	}
	return map[string]any{"result": result}, nil
}

var (
	snakeBoundary  = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	snakeSeparator = regexp.MustCompile(`[\s-]+`)
	wordSeparator  = regexp.MustCompile(`[\s_-]+`)
)

func opCase(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	text := stringParam(a, "text", "")
	mode := stringParam(a, "mode", "lower")

	var result string
	switch mode {
	case "upper":
		result = strings.ToUpper(text)
	case "lower":
		result = strings.ToLower(text)
	case "title":
		result = titleCase(text)
	case "capitalize":
		result = capitalize(text)
	case "snake":
		result = snakeBoundary.ReplaceAllString(text, "${1}_${2}")
		result = snakeSeparator.ReplaceAllString(result, "_")
		result = strings.ToLower(result)
	case "camel":
		words := wordSeparator.Split(text, -1)
		var b strings.Builder
		for i, w := range words {
			if w == "" {
				continue
			}
			if b.Len() == 0 && i == 0 {
				b.WriteString(strings.ToLower(w))
			} else {
				b.WriteString(capitalize(w))
			}
		}
		result = b.String()
	default:
		result = text
	}
	return map[string]any{"result": result}, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
		} else {
			b.WriteRune(r)
			prevLetter = false
		}
	}
	return b.String()
}

func opSubstring(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	runes := []rune(stringParam(a, "text", ""))
	n := len(runes)
	start := intParam(a, "start", 0)

	endSet := false
	end := n
	if v, ok := a["end"]; ok && v != nil {
		end = intParam(a, "end", n)
		endSet = true
	}
	if v, ok := a["length"]; ok && v != nil && !endSet {
		end = start + intParam(a, "length", 0)
	}

	// Python slice semantics: negatives count from the end, out-of-range
	// indices clamp.
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	start = clamp(start, 0, n)
	end = clamp(end, 0, n)
	if start > end {
		return map[string]any{"result": ""}, nil
	}
	return map[string]any{"result": string(runes[start:end])}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func opEncodeDecode(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	text := stringParam(a, "text", "")
	operation := stringParam(a, "operation", "encode")
	format := stringParam(a, "format", "base64")

	var result string
	var err error
	switch format {
	case "base64":
		if operation == "encode" {
			result = base64.StdEncoding.EncodeToString([]byte(text))
		} else {
			var decoded []byte
			decoded, err = base64.StdEncoding.DecodeString(text)
			result = string(decoded)
		}
	case "url":
		if operation == "encode" {
			result = url.QueryEscape(text)
		} else {
			result, err = url.QueryUnescape(text)
		}
	case "hex":
		if operation == "encode" {
			result = hex.EncodeToString([]byte(text))
		} else {
			var decoded []byte
			decoded, err = hex.DecodeString(text)
			result = string(decoded)
		}
	case "html":
		if operation == "encode" {
			result = html.EscapeString(text)
		} else {
			result = html.UnescapeString(text)
		}
	default:
		result = text
	}
	if err != nil {
		return map[string]any{"result": text, "error": err.Error()}, nil
	}
	return map[string]any{"result": result}, nil
}

func opHash(_ context.Context, a map[string]any, _ *Runtime) (any, error) {
	text := stringParam(a, "text", "")
	algorithm := stringParam(a, "algorithm", "sha256")

	var h hash.Hash
	switch algorithm {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return map[string]any{"hash": nil, "error": fmt.Sprintf("unknown algorithm: %s", algorithm)}, nil
	}
	h.Write([]byte(text))
	return map[string]any{"hash": hex.EncodeToString(h.Sum(nil)), "algorithm": algorithm}, nil
}
