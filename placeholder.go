package dbmap

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Counters are threaded through every Resolve call of one statement.
// ValueIndex points at the next caller value to consume; AutoNameIndex
// numbers the generated @pN parameter names.
type Counters struct {
	ValueIndex    int
	AutoNameIndex int
}

// ResolvedPlaceholder is the SQL-safe output of one meta-name.
type ResolvedPlaceholder struct {
	Fragment      string
	ConsumesValue bool
	// ParamName and ValueIndex are set only when ConsumesValue is true.
	ParamName  string
	ValueIndex int
}

// PlaceholderResolver turns meta-name tokens into column references,
// literals or parameter markers. It holds no per-statement state and is
// safe for concurrent use.
type PlaceholderResolver struct {
	mappings MappingSource
	open     string
	close    string
}

// NewPlaceholderResolver builds a resolver over mappings, enclosing
// identifiers with the dialect's field enclosers.
func NewPlaceholderResolver(mappings MappingSource, dialect Dialect) *PlaceholderResolver {
	return &PlaceholderResolver{
		mappings: mappings,
		open:     dialect.FieldOpen,
		close:    dialect.FieldClose,
	}
}

// Resolve classifies token and returns its fragment. Only "#" and "@name"
// consume a value and advance c.ValueIndex; "#" also advances
// c.AutoNameIndex. Everything else leaves the counters untouched.
func (r *PlaceholderResolver) Resolve(token, key string, c *Counters) (ResolvedPlaceholder, error) {
	switch {
	case strings.TrimSpace(token) == "":
		return ResolvedPlaceholder{Fragment: token}, nil

	case token == autoParamToken:
		name := autoParamNamePrefix + strconv.Itoa(c.AutoNameIndex)
		res := ResolvedPlaceholder{Fragment: name, ConsumesValue: true, ParamName: name, ValueIndex: c.ValueIndex}
		c.ValueIndex++
		c.AutoNameIndex++
		return res, nil

	case strings.HasPrefix(token, namedParamPrefix):
		sanitized := strings.ToLower(sanitizeParamName(token[len(namedParamPrefix):]))
		if first, _ := utf8.DecodeRuneInString(sanitized); !unicode.IsLetter(first) {
			return ResolvedPlaceholder{}, newError(ErrCodeMalformedMetaNameSyntax,
				"parameter '%s' must start with a letter", token)
		}
		name := namedParamPrefix + sanitized
		res := ResolvedPlaceholder{Fragment: name, ConsumesValue: true, ParamName: name, ValueIndex: c.ValueIndex}
		c.ValueIndex++
		return res, nil

	case hasPrefixFold(token, unprotectedLitPrefix):
		// 不做任何过滤，调用方自行保证安全（例如 ORDER BY 子句）
		return ResolvedPlaceholder{Fragment: token[len(unprotectedLitPrefix):]}, nil

	case strings.HasPrefix(token, literalPrefix):
		return ResolvedPlaceholder{Fragment: r.enclose(sanitizeLiteral(token[len(literalPrefix):]))}, nil
	}

	switch strings.Count(token, qualifierSeparator) {
	case 0:
		col, err := r.mappings.Column(key, strings.TrimSpace(token))
		if err != nil {
			return ResolvedPlaceholder{}, err
		}
		return ResolvedPlaceholder{Fragment: r.enclose(sanitizeIdentifier(col))}, nil
	case 1:
		table, prop, _ := strings.Cut(token, qualifierSeparator)
		table, prop = strings.TrimSpace(table), strings.TrimSpace(prop)
		col, err := r.mappings.Column(table, prop)
		if err != nil {
			return ResolvedPlaceholder{}, err
		}
		return ResolvedPlaceholder{
			Fragment: r.enclose(sanitizeIdentifier(table)) + "." + r.enclose(sanitizeIdentifier(col)),
		}, nil
	default:
		return ResolvedPlaceholder{}, newError(ErrCodeMalformedMetaNameSyntax,
			"meta-name '%s' contains more than one '%s'", token, qualifierSeparator)
	}
}

func (r *PlaceholderResolver) enclose(s string) string {
	return r.open + s + r.close
}

// isMarker reports whether token is a dynamic parameter or literal, i.e.
// anything that is not a (qualified) property reference.
func isMarker(token string) bool {
	return token == autoParamToken ||
		strings.HasPrefix(token, namedParamPrefix) ||
		strings.HasPrefix(token, literalPrefix)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func keepRunes(s string, keep func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sanitizeParamName keeps letters, digits, '_' and '-'.
func sanitizeParamName(s string) string {
	return keepRunes(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
	})
}

// sanitizeLiteral keeps letters, digits, whitespace, '_' and '-'.
func sanitizeLiteral(s string) string {
	return keepRunes(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' || r == '-'
	})
}

// sanitizeIdentifier keeps letters, digits, whitespace and '_'. Hyphens are
// dropped since they are not valid in bare identifiers.
func sanitizeIdentifier(s string) string {
	return keepRunes(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_'
	})
}
