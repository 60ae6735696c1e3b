// Package vocab holds the stable ALP token set, the concept-ID derivation,
// and the node-key normalization applied before parsing.
package vocab

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Namespace prefix keeps concept IDs stable across vocabulary revisions.
const cidNamespace = "alp.vocab/1/"

type entry struct {
	Token   string
	Meaning string
}

// Canonical vocabulary. '@in' and '@out' are accepted as aliases for the
// 'in'/'out' node fields.
var vocabulary = []entry{
	{"@def", "declare entity/type"},
	{"@fn", "function node"},
	{"@op", "primitive operation (symbolic)"},
	{"@llm", "LLM operation"},
	{"@tool", "external tool call"},
	{"@flow", "control/data edges"},
	{"@import", "load another source file"},
	{"@in", "inputs"},
	{"@out", "outputs"},
	{"@expect", "output contract/schema"},
	{"@shape", "schema/struct definition"},
	{"@intent", "macro that expands to subgraph"},
	{"@emb", "embedding literal/ref"},
	{"@pkg", "package import (signed)"},
	{"@caps", "capability/privilege requirement"},
	{"@const", "constant literal"},
	{"@var", "runtime variable"},
	{"@err", "error handling policy"},
	{"@retry", "retry policy"},
	{"@cache", "memoization key"},
	{"@idemp", "idempotency declaration"},
	{"@trace", "provenance tag"},
	{"@hash", "content hash"},
	{"@ver", "version pin"},
	{"@meta", "arbitrary metadata"},
	{"@test", "example/fixture"},
}

var (
	tokenToCID = map[string]string{}
	cidToToken = map[string]string{}
	meanings   = map[string]string{}
)

func init() {
	for _, e := range vocabulary {
		cid := deriveCID(e.Token)
		tokenToCID[e.Token] = cid
		cidToToken[strings.ToLower(cid)] = e.Token
		meanings[e.Token] = e.Meaning
	}
}

func deriveCID(token string) string {
	sum := sha256.Sum256([]byte(cidNamespace + token))
	return "0x" + hex.EncodeToString(sum[:])[:16]
}

// TokenToCID returns the stable concept ID for a token. Unknown tokens hash
// through the same derivation so the mapping is total.
func TokenToCID(token string) string {
	if cid, ok := tokenToCID[token]; ok {
		return cid
	}
	return deriveCID(token)
}

// CIDToToken maps a concept ID back to its textual token. Tokens pass
// through unchanged, as do unknown CIDs.
func CIDToToken(cidOrToken string) string {
	if _, ok := tokenToCID[cidOrToken]; ok {
		return cidOrToken
	}
	if tok, ok := cidToToken[strings.ToLower(cidOrToken)]; ok {
		return tok
	}
	return cidOrToken
}

// Meaning returns the documented meaning of a token, or "".
func Meaning(token string) string {
	return meanings[token]
}

// VocabEntry is one exported vocabulary row.
type VocabEntry struct {
	Token   string `json:"token"`
	CID     string `json:"cid"`
	Meaning string `json:"meaning"`
}

// Export returns the full vocabulary for documentation and SDK shipping.
func Export() []VocabEntry {
	out := make([]VocabEntry, 0, len(vocabulary))
	for _, e := range vocabulary {
		out = append(out, VocabEntry{Token: e.Token, CID: tokenToCID[e.Token], Meaning: e.Meaning})
	}
	return out
}

// Top-level keys normalized to their textual aliases. '@in'/'@out' collapse
// into the plain field names the executor reads.
var topLevelKeys = map[string]string{
	"@const":  "@const",
	"@op":     "@op",
	"@llm":    "@llm",
	"@retry":  "@retry",
	"@expect": "@expect",
	"@shape":  "@shape",
	"@intent": "@intent",
	"@emb":    "@emb",
	"@pkg":    "@pkg",
	"@caps":   "@caps",
	"@var":    "@var",
	"@err":    "@err",
	"@cache":  "@cache",
	"@idemp":  "@idemp",
	"@trace":  "@trace",
	"@hash":   "@hash",
	"@ver":    "@ver",
	"@meta":   "@meta",
	"@tool":   "@tool",
	"@test":   "@test",
	"@in":     "in",
	"@out":    "out",
}

var cidKeyAliases = func() map[string]string {
	m := make(map[string]string, len(topLevelKeys))
	for tok, norm := range topLevelKeys {
		m[strings.ToLower(TokenToCID(tok))] = norm
	}
	return m
}()

// Node kinds recognized at the top level.
var kindAliases = map[string]string{
	"@def":    "@def",
	"@shape":  "@shape",
	"@fn":     "@fn",
	"@flow":   "@flow",
	"@tool":   "@tool",
	"@import": "@import",
}

var kindCIDAliases = func() map[string]string {
	m := make(map[string]string, len(kindAliases))
	for tok, norm := range kindAliases {
		m[strings.ToLower(TokenToCID(tok))] = norm
	}
	return m
}()

// NormalizeNode rewrites a decoded node in place: the kind field and any
// top-level keys expressed as CIDs become their textual forms, and the
// '@in'/'@out' aliases collapse to 'in'/'out'.
func NormalizeNode(node map[string]any) map[string]any {
	if node == nil {
		return node
	}
	if kind, ok := node["kind"].(string); ok {
		k := CIDToToken(kind)
		if norm, ok := kindAliases[k]; ok {
			node["kind"] = norm
		} else if norm, ok := kindCIDAliases[strings.ToLower(kind)]; ok {
			node["kind"] = norm
		}
	}
	toAdd := map[string]any{}
	var toDel []string
	for k, v := range node {
		if norm, ok := topLevelKeys[k]; ok {
			if norm != k {
				toAdd[norm] = v
				toDel = append(toDel, k)
			}
			continue
		}
		if norm, ok := cidKeyAliases[strings.ToLower(k)]; ok {
			toAdd[norm] = v
			toDel = append(toDel, k)
		}
	}
	for _, k := range toDel {
		delete(node, k)
	}
	for k, v := range toAdd {
		node[k] = v
	}
	return node
}
