package dbmap

import (
	"strings"
)

// PreparedStatement is the final SQL text of one call plus the number of
// parameters bound to it. Built per call and never reused.
type PreparedStatement struct {
	text       string
	paramCount int
}

// Text returns the SQL text.
func (s *PreparedStatement) Text() string { return s.text }

// ParamCount returns the number of bound parameters.
func (s *PreparedStatement) ParamCount() int { return s.paramCount }

func (s *PreparedStatement) String() string { return s.text }

// BoundParameter is one (name, value) pair. The order of a parameter list
// follows the order of the markers in the SQL text.
type BoundParameter struct {
	Name  string
	Value interface{}
}

// StatementBuilder assembles SQL text and parameters from templates and
// meta-names. Each call owns its counters, so a builder is safe for
// concurrent use.
type StatementBuilder struct {
	resolver  *PlaceholderResolver
	mappings  MappingSource
	templates TemplateSource
}

// NewStatementBuilder wires a builder over the given sources.
func NewStatementBuilder(mappings MappingSource, templates TemplateSource, dialect Dialect) *StatementBuilder {
	return &StatementBuilder{
		resolver:  NewPlaceholderResolver(mappings, dialect),
		mappings:  mappings,
		templates: templates,
	}
}

// Resolver exposes the builder's placeholder resolver.
func (b *StatementBuilder) Resolver() *PlaceholderResolver { return b.resolver }

// FillPlaceholders is the field-list + WHERE shape: slot 0 receives the
// enclosed, comma-joined columns of fields; the resolved where tokens fill
// the following slots.
func (b *StatementBuilder) FillPlaceholders(kind StatementKind, key, name string, fields, where []string, values []interface{}) (*PreparedStatement, []BoundParameter, error) {
	columns, err := b.columnList(key, fields)
	if err != nil {
		return nil, nil, err
	}
	var c Counters
	args, params, err := b.resolveAll(key, where, values, &c)
	if err != nil {
		return nil, nil, err
	}
	return b.render(kind, name, append([]string{columns}, args...), params)
}

// FillWherePlaceholders is the WHERE-only shape: every slot comes from the
// resolved where tokens.
func (b *StatementBuilder) FillWherePlaceholders(kind StatementKind, key, name string, where []string, values []interface{}) (*PreparedStatement, []BoundParameter, error) {
	var c Counters
	args, params, err := b.resolveAll(key, where, values, &c)
	if err != nil {
		return nil, nil, err
	}
	return b.render(kind, name, args, params)
}

// FillAssignmentPlaceholders is the UPDATE shape: slot 0 receives
// "[Col] = @pN" pairs consuming the first len(fields) values, then the where
// tokens continue with the same counters.
func (b *StatementBuilder) FillAssignmentPlaceholders(kind StatementKind, key, name string, fields, where []string, values []interface{}) (*PreparedStatement, []BoundParameter, error) {
	var c Counters
	pairs := make([]string, 0, len(fields))
	params := make([]BoundParameter, 0, len(values))
	for _, field := range fields {
		col, err := b.resolveField(key, field)
		if err != nil {
			return nil, nil, err
		}
		res, p, err := b.resolveOne(autoParamToken, key, values, &c)
		if err != nil {
			return nil, nil, err
		}
		pairs = append(pairs, col+" = "+res.Fragment)
		params = append(params, p...)
	}

	args, whereParams, err := b.resolveAll(key, where, values, &c)
	if err != nil {
		return nil, nil, err
	}
	return b.render(kind, name, append([]string{strings.Join(pairs, ", ")}, args...), append(params, whereParams...))
}

// InsertColumns returns fields unchanged, or every mapped property of key in
// mapping order when fields is empty.
func (b *StatementBuilder) InsertColumns(key string, fields []string) ([]string, error) {
	if len(fields) > 0 {
		return fields, nil
	}
	cols, err := b.mappings.Columns(key)
	if err != nil {
		return nil, err
	}
	props := make([]string, len(cols))
	for i, cm := range cols {
		props[i] = cm.Property
	}
	return props, nil
}

func (b *StatementBuilder) columnList(key string, fields []string) (string, error) {
	cols := make([]string, 0, len(fields))
	for _, field := range fields {
		col, err := b.resolveField(key, field)
		if err != nil {
			return "", err
		}
		cols = append(cols, col)
	}
	return strings.Join(cols, ", "), nil
}

// resolveField accepts only (qualified) property references; markers have
// no meaning inside a column list.
func (b *StatementBuilder) resolveField(key, field string) (string, error) {
	if strings.TrimSpace(field) == "" || isMarker(field) {
		return "", newError(ErrCodeMalformedMetaNameSyntax, "'%s' is not a property name", field)
	}
	var none Counters
	res, err := b.resolver.Resolve(field, key, &none)
	if err != nil {
		return "", err
	}
	return res.Fragment, nil
}

func (b *StatementBuilder) resolveAll(key string, tokens []string, values []interface{}, c *Counters) ([]string, []BoundParameter, error) {
	args := make([]string, 0, len(tokens))
	var params []BoundParameter
	for _, tok := range tokens {
		res, p, err := b.resolveOne(tok, key, values, c)
		if err != nil {
			return nil, nil, err
		}
		args = append(args, res.Fragment)
		params = append(params, p...)
	}
	return args, params, nil
}

func (b *StatementBuilder) resolveOne(tok, key string, values []interface{}, c *Counters) (ResolvedPlaceholder, []BoundParameter, error) {
	res, err := b.resolver.Resolve(tok, key, c)
	if err != nil {
		return res, nil, err
	}
	if !res.ConsumesValue {
		return res, nil, nil
	}
	if res.ValueIndex >= len(values) {
		return res, nil, newError(ErrCodeParameterValueMissing,
			"no value at index %d for parameter '%s' (%d values supplied)", res.ValueIndex, res.ParamName, len(values))
	}
	return res, []BoundParameter{{Name: res.ParamName, Value: values[res.ValueIndex]}}, nil
}

func (b *StatementBuilder) render(kind StatementKind, name string, args []string, params []BoundParameter) (*PreparedStatement, []BoundParameter, error) {
	tmpl, err := b.templates.Template(kind, name)
	if err != nil {
		return nil, nil, err
	}

	var p *parsedTemplate
	if reg, ok := b.templates.(*TemplateRegistry); ok {
		p, err = reg.parse(tmpl)
	} else {
		p, err = parseTemplate(tmpl)
	}
	if err != nil {
		return nil, nil, err
	}

	text, err := p.render(args)
	if err != nil {
		return nil, nil, err
	}
	if params == nil {
		params = []BoundParameter{}
	}
	return &PreparedStatement{text: text, paramCount: len(params)}, params, nil
}
