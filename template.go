package dbmap

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// StatementKind selects the template family.
type StatementKind string

const (
	KindSelect StatementKind = "select"
	KindInsert StatementKind = "insert"
	KindUpdate StatementKind = "update"
	KindDelete StatementKind = "delete"
)

// ParseStatementKind accepts the kind names used in template files, any case.
func ParseStatementKind(s string) (StatementKind, error) {
	switch k := StatementKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSelect, KindInsert, KindUpdate, KindDelete:
		return k, nil
	}
	return "", newError(ErrCodeConfigurationInvalid, "unknown statement kind '%s'", s)
}

// TemplateSource yields positional-format SQL templates ({0}, {1}, ...).
type TemplateSource interface {
	Template(kind StatementKind, name string) (string, error)
}

// TemplateFile is the JSON layout of a template file.
//
//	{
//	  "version": "1.0",
//	  "namespace": "employee",
//	  "sqls": [
//	    {"name": "byId", "type": "select", "sql": "SELECT {0} FROM [Employee] WHERE {1} = {2};"}
//	  ]
//	}
type TemplateFile struct {
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Namespace   string         `json:"namespace,omitempty"`
	Sqls        []TemplateItem `json:"sqls"`
}

// TemplateItem is one named template.
type TemplateItem struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	SQL         string `json:"sql"`
	Namespace   string `json:"namespace,omitempty"`
	Description string `json:"description,omitempty"`

	FilePath string `json:"-"` // 来源配置文件路径
	FullName string `json:"-"` // namespace.name 或 name
}

type templateKey struct {
	kind StatementKind
	name string
}

// TemplateRegistry is a TemplateSource loaded from JSON files or added in
// code. Parsed templates are kept in a bounded LRU keyed by template text.
type TemplateRegistry struct {
	mu     sync.RWMutex
	items  map[templateKey]*TemplateItem
	files  []string
	parsed *lru.Cache[string, *parsedTemplate]
}

// NewTemplateRegistry creates an empty registry. cacheSize <= 0 uses
// DefaultTemplateCacheSize.
func NewTemplateRegistry(cacheSize int) *TemplateRegistry {
	if cacheSize <= 0 {
		cacheSize = DefaultTemplateCacheSize
	}
	cache, _ := lru.New[string, *parsedTemplate](cacheSize) // size > 0 never fails
	return &TemplateRegistry{
		items:  make(map[templateKey]*TemplateItem),
		parsed: cache,
	}
}

// Add registers a template directly. Names are case-sensitive.
func (r *TemplateRegistry) Add(kind StatementKind, name, sql string) error {
	if _, err := ParseStatementKind(string(kind)); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return newError(ErrCodeConfigurationInvalid, "template name cannot be empty")
	}
	if _, err := r.parse(sql); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[templateKey{kind, name}] = &TemplateItem{Name: name, Type: string(kind), SQL: sql, FullName: name}
	return nil
}

// Template implements TemplateSource.
func (r *TemplateRegistry) Template(kind StatementKind, name string) (string, error) {
	r.mu.RLock()
	item, ok := r.items[templateKey{kind, name}]
	r.mu.RUnlock()
	if !ok {
		return "", newError(ErrCodeTemplateNotFound, "%s template '%s' not found", kind, name)
	}
	return item.SQL, nil
}

// Names lists every registered "kind/name" pair, sorted.
func (r *TemplateRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, string(k.kind)+"/"+k.name)
	}
	sort.Strings(out)
	return out
}

// LoadFile loads one JSON template file. Templates are registered under
// namespace.name and, when free, under the bare name as well.
func (r *TemplateRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return wrapError(err, ErrCodeConfigurationInvalid, "failed to read template file '%s'", path)
	}

	var file TemplateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return wrapError(err, ErrCodeConfigurationInvalid, "failed to parse template file '%s'", path)
	}

	staged := make(map[templateKey]*TemplateItem, len(file.Sqls))
	aliases := make(map[templateKey]*TemplateItem)
	for i := range file.Sqls {
		item := &file.Sqls[i]
		item.FilePath = path

		kind, kindErr := ParseStatementKind(item.Type)
		if kindErr != nil {
			return newError(ErrCodeConfigurationInvalid, "template '%s' in '%s': unknown type '%s'", item.Name, path, item.Type)
		}
		if strings.TrimSpace(item.Name) == "" {
			return newError(ErrCodeConfigurationInvalid, "template without name in '%s'", path)
		}
		if _, err := r.parse(item.SQL); err != nil {
			return newError(ErrCodeConfigurationInvalid, "template '%s' in '%s': %v", item.Name, path, err)
		}

		namespace := item.Namespace
		if namespace == "" {
			namespace = file.Namespace
		}
		item.FullName = item.Name
		if namespace != "" {
			item.FullName = namespace + "." + item.Name
			aliases[templateKey{kind, item.Name}] = item
		}

		key := templateKey{kind, item.FullName}
		if _, dup := staged[key]; dup {
			return newError(ErrCodeConfigurationInvalid, "duplicate template '%s' in '%s'", item.FullName, path)
		}
		staged[key] = item
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, item := range staged {
		if prev, dup := r.items[key]; dup {
			return newError(ErrCodeConfigurationInvalid, "duplicate template '%s' in %s (previously defined in %s)",
				item.FullName, path, prev.FilePath)
		}
	}
	for key, item := range staged {
		r.items[key] = item
	}
	for key, item := range aliases {
		if _, exists := r.items[key]; !exists {
			r.items[key] = item
		}
	}
	r.files = append(r.files, path)

	LogInfo("SQL templates loaded", map[string]interface{}{
		"path":      path,
		"namespace": file.Namespace,
		"version":   file.Version,
		"count":     len(file.Sqls),
	})
	return nil
}

// LoadDir loads every *.json file in dir, in name order.
func (r *TemplateRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return wrapError(err, ErrCodeConfigurationInvalid, "failed to read template directory '%s'", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// parsedTemplate is a template split at its slots: text[0] slot[0] text[1] ... text[n].
type parsedTemplate struct {
	text  []string
	slots []int
	want  int
}

func (r *TemplateRegistry) parse(tmpl string) (*parsedTemplate, error) {
	if r != nil && r.parsed != nil {
		if p, ok := r.parsed.Get(tmpl); ok {
			return p, nil
		}
	}
	p, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	if r != nil && r.parsed != nil {
		r.parsed.Add(tmpl, p)
	}
	return p, nil
}

func parseTemplate(tmpl string) (*parsedTemplate, error) {
	p := &parsedTemplate{}
	var cur strings.Builder
	for i := 0; i < len(tmpl); i++ {
		ch := tmpl[i]
		switch ch {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				cur.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return nil, newError(ErrCodeConfigurationInvalid, "unclosed '{' at offset %d in template", i)
			}
			idx, err := strconv.Atoi(strings.TrimSpace(tmpl[i+1 : i+1+end]))
			if err != nil || idx < 0 {
				return nil, newError(ErrCodeConfigurationInvalid, "invalid slot '%s' at offset %d in template", tmpl[i:i+2+end], i)
			}
			p.text = append(p.text, cur.String())
			cur.Reset()
			p.slots = append(p.slots, idx)
			if idx+1 > p.want {
				p.want = idx + 1
			}
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				i++
			}
			cur.WriteByte('}')
		default:
			cur.WriteByte(ch)
		}
	}
	p.text = append(p.text, cur.String())
	return p, nil
}

// render substitutes args into the slots. len(args) must equal the
// highest slot index + 1.
func (p *parsedTemplate) render(args []string) (string, error) {
	if len(args) != p.want {
		return "", newError(ErrCodeTemplateArgumentCountMismatch,
			"template argument count mismatch: expected=%d, got=%d", p.want, len(args))
	}
	var b strings.Builder
	for i, slot := range p.slots {
		b.WriteString(p.text[i])
		b.WriteString(args[slot])
	}
	b.WriteString(p.text[len(p.text)-1])
	return b.String(), nil
}

// formatTemplate parses and renders tmpl in one step, bypassing any cache.
func formatTemplate(tmpl string, args []string) (string, error) {
	p, err := parseTemplate(tmpl)
	if err != nil {
		return "", err
	}
	return p.render(args)
}
