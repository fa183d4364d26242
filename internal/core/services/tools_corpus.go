package services

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/manthysbr/librarian/internal/core/domain"
)

// Read-only tools over an action-word markdown corpus. Each constructor
// binds the corpus root into the Execute closure so the model never has
// to pass it. Failures a model can recover from (missing file, malformed
// metadata, empty search) come back as diagnostic tool text, not errors;
// only infrastructure faults surface as Go errors.

const (
	maxListedFiles     = 30
	maxSearchLines     = 25
	maxMatchesPerFile  = 5
	maxSearchLineWidth = 200
)

func stringProp(desc string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", &openapi3.Schema{
		Type:        &openapi3.Types{openapi3.TypeString},
		Description: desc,
	})
}

func objectSchema(props map[string]*openapi3.SchemaRef, required ...string) *openapi3.Schema {
	return &openapi3.Schema{
		Type:       &openapi3.Types{openapi3.TypeObject},
		Properties: props,
		Required:   required,
	}
}

// NewCorpusRegistry builds the tool registry for one corpus root.
func NewCorpusRegistry(root string) (*domain.ToolRegistry, error) {
	registry := domain.NewToolRegistry()
	for _, tool := range []*domain.Tool{
		NewFindAWFilesTool(root),
		NewSearchKeywordsTool(root),
		NewGrepPatternTool(root),
		NewReadAWFileTool(root),
		NewExtractAWMetadataTool(root),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// NewFindAWFilesTool lists the markdown files under the corpus root,
// optionally filtered by a substring of the file name.
func NewFindAWFilesTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "find_aw_files",
		Description: "List the markdown files in the AW corpus. Good first call to learn the corpus layout. Optionally filter by a substring of the file name.",
		Parameters: objectSchema(map[string]*openapi3.SchemaRef{
			"name_contains": stringProp("optional substring filter on the file name, e.g. 'project'"),
		}),
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			filter := strings.ToLower(argString(args, "name_contains"))
			files, err := listMarkdownFiles(root, filter)
			if err != nil {
				return "", err
			}
			if len(files) == 0 {
				if filter != "" {
					return fmt.Sprintf("no AW files with %q in the name; call find_aw_files without a filter to see the full listing", filter), nil
				}
				return "the corpus contains no markdown files", nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "=== AW corpus listing ===\n%d files:\n", len(files))
			for i, f := range files {
				if i == maxListedFiles {
					fmt.Fprintf(&b, "  ... %d more\n", len(files)-maxListedFiles)
					break
				}
				fmt.Fprintf(&b, "  - %s\n", f)
			}
			return b.String(), nil
		},
	}
}

// NewSearchKeywordsTool searches the corpus for any of a comma separated
// keyword list, case insensitive, reporting file, line number and line.
func NewSearchKeywordsTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "search_keywords",
		Description: "Search the AW corpus for keywords. Multiple keywords may be comma separated, e.g. 'project,branch,create'. Matches are case insensitive and reported with file and line number.",
		Parameters: objectSchema(map[string]*openapi3.SchemaRef{
			"keywords": stringProp("keywords to search for, comma separated"),
		}, "keywords"),
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			keywords := argString(args, "keywords")
			if strings.TrimSpace(keywords) == "" {
				return "search_keywords needs a non-empty keywords argument", nil
			}
			pattern, err := keywordPattern(keywords)
			if err != nil {
				return fmt.Sprintf("could not compile %q into a search pattern: %v", keywords, err), nil
			}
			hits, err := searchCorpus(root, "*.md", pattern)
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return fmt.Sprintf("nothing in the corpus matches %q; try synonyms, broader terms, or a different language", keywords), nil
			}
			return fmt.Sprintf("=== keyword search [%s] ===\n%s", keywords, strings.Join(hits, "\n")), nil
		},
	}
}

// NewGrepPatternTool searches the corpus with a caller supplied regular
// expression, suited to structured fields like frontmatter keys.
func NewGrepPatternTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "grep_pattern",
		Description: "Search the AW corpus with a regular expression. Useful for structured fields such as YAML frontmatter keys.",
		Parameters: objectSchema(map[string]*openapi3.SchemaRef{
			"pattern":      stringProp("regular expression to match"),
			"file_pattern": stringProp("glob filter on file names, default *.md"),
		}, "pattern"),
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			pattern := argString(args, "pattern")
			if strings.TrimSpace(pattern) == "" {
				return "grep_pattern needs a non-empty pattern argument", nil
			}
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return fmt.Sprintf("invalid pattern %q: %v", pattern, err), nil
			}
			glob := argString(args, "file_pattern")
			if glob == "" {
				glob = "*.md"
			}
			hits, err := searchCorpus(root, glob, re)
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return fmt.Sprintf("no lines match pattern %q", pattern), nil
			}
			return fmt.Sprintf("=== pattern search [%s] ===\n%s", pattern, strings.Join(hits, "\n")), nil
		},
	}
}

// NewReadAWFileTool reads one AW document in full. The path may be
// absolute, relative to the corpus root, or just a near-miss file name;
// resolution tries exact locations first and falls back to fuzzy matching
// over the corpus file names.
func NewReadAWFileTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "read_aw_file",
		Description: "Read the full content of one AW markdown file. Use it to verify that an AW's parameters and purpose fit the step.",
		Parameters: objectSchema(map[string]*openapi3.SchemaRef{
			"file_path": stringProp("path of the AW file, relative to the corpus root, e.g. 'aw_createProject.md'"),
		}, "file_path"),
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			requested := argString(args, "file_path")
			target, diag := resolveCorpusFile(root, requested)
			if diag != "" {
				return diag, nil
			}
			content, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", target, err)
			}
			return fmt.Sprintf("=== %s ===\n%s", filepath.Base(target), content), nil
		},
	}
}

// NewExtractAWMetadataTool pulls the structured metadata out of one AW
// document: the YAML frontmatter fields plus the parameter table.
func NewExtractAWMetadataTool(root string) *domain.Tool {
	return &domain.Tool{
		Name:        "extract_aw_metadata",
		Description: "Extract the structured metadata of one AW file: id, name, keywords and parameter table. Faster than reading the whole document.",
		Parameters: objectSchema(map[string]*openapi3.SchemaRef{
			"file_path": stringProp("path of the AW file, relative to the corpus root"),
		}, "file_path"),
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			requested := argString(args, "file_path")
			target, diag := resolveCorpusFile(root, requested)
			if diag != "" {
				return diag, nil
			}
			content, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("reading %s: %w", target, err)
			}
			return formatAWMetadata(filepath.Base(target), string(content)), nil
		},
	}
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// keywordPattern turns a comma separated keyword list into one
// case-insensitive alternation.
func keywordPattern(keywords string) (*regexp.Regexp, error) {
	parts := strings.FieldsFunc(keywords, func(r rune) bool { return r == ',' || r == '，' })
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	if len(quoted) == 0 {
		return nil, fmt.Errorf("no usable keywords in %q", keywords)
	}
	return regexp.Compile("(?i)" + strings.Join(quoted, "|"))
}

func listMarkdownFiles(root, nameFilter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		if nameFilter != "" && !strings.Contains(strings.ToLower(d.Name()), nameFilter) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// searchCorpus scans every file matching glob for re, collecting at most
// maxMatchesPerFile hits per file and maxSearchLines hits overall.
func searchCorpus(root, glob string, re *regexp.Regexp) ([]string, error) {
	var hits []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || len(hits) >= maxSearchLines {
			return nil
		}
		if ok, _ := filepath.Match(glob, d.Name()); !ok {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		fileHits := 0
		for i, line := range strings.Split(string(content), "\n") {
			if fileHits >= maxMatchesPerFile || len(hits) >= maxSearchLines {
				break
			}
			if !re.MatchString(line) {
				continue
			}
			trimmed := strings.TrimSpace(line)
			if len(trimmed) > maxSearchLineWidth {
				trimmed = trimmed[:maxSearchLineWidth] + "..."
			}
			hits = append(hits, fmt.Sprintf("%s:%d: %s", filepath.ToSlash(rel), i+1, trimmed))
			fileHits++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching corpus %s: %w", root, err)
	}
	return hits, nil
}

// resolveCorpusFile maps a model supplied path onto a real corpus file.
// Tries the root-relative path and the bare base name first, then falls
// back to fuzzy matching over the corpus file names. A non-empty second
// return is the diagnostic to hand back to the model.
func resolveCorpusFile(root, requested string) (string, string) {
	if strings.TrimSpace(requested) == "" {
		return "", "file_path must not be empty; call find_aw_files to see the available files"
	}
	base := filepath.Base(requested)
	for _, candidate := range []string{
		filepath.Join(root, filepath.FromSlash(requested)),
		filepath.Join(root, base),
	} {
		if insideRoot(root, candidate) && fileExists(candidate) {
			return candidate, ""
		}
	}
	files, err := listMarkdownFiles(root, "")
	if err != nil || len(files) == 0 {
		return "", fmt.Sprintf("file not found: %s; call find_aw_files to see the available files", requested)
	}
	if match, ok := fuzzyMatchFile(base, files); ok {
		return filepath.Join(root, filepath.FromSlash(match)), ""
	}
	return "", fmt.Sprintf("file not found: %s; call find_aw_files to see the available files", requested)
}

func insideRoot(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// fuzzyMatchFile picks the corpus file whose name is closest to the
// requested name: substring containment wins outright, otherwise the
// smallest edit distance within a third of the name length.
func fuzzyMatchFile(requested string, files []string) (string, bool) {
	want := strings.ToLower(strings.TrimSuffix(requested, ".md"))
	bestDist := -1
	best := ""
	for _, f := range files {
		name := strings.ToLower(strings.TrimSuffix(filepath.Base(f), ".md"))
		if strings.Contains(name, want) || strings.Contains(want, name) {
			return f, true
		}
		d := levenshtein(want, name)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = f
		}
	}
	if bestDist >= 0 && bestDist <= len(want)/3 {
		return best, true
	}
	return "", false
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

var frontmatterRe = regexp.MustCompile(`(?s)\A---\s*\n(.*?)\n---`)
var paramTableRe = regexp.MustCompile(`(?mi)^\|\s*(?:name|参数名)\b.*\n\|[\s\-|:]*\n((?:\|.*\n?)*)`)
var bodyKeywordsRe = regexp.MustCompile(`(?mi)^(?:keywords|关键词)[:：]\s*(.+)`)
var bodyTagsRe = regexp.MustCompile(`(?mi)^(?:tags|场景标签)[:：]\s*(.+)`)

// bodyLine pulls the value of a labelled line from the document body,
// skipping the frontmatter block so its keys are not matched twice.
func bodyLine(re *regexp.Regexp, body string) string {
	if m := re.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// formatAWMetadata extracts the frontmatter fields, the keyword and tag
// lines, and the parameter table from an AW document. A document without
// frontmatter is reported as malformed; the model usually moves on to
// another file.
func formatAWMetadata(name, content string) string {
	fm := frontmatterRe.FindStringSubmatch(content)
	if fm == nil {
		return fmt.Sprintf("%v in %s: no YAML frontmatter block; read_aw_file still works on it", domain.ErrMalformedMetadata, name)
	}
	body := content[len(fm[0]):]
	var b strings.Builder
	fmt.Fprintf(&b, "=== AW metadata: %s ===\n", name)
	for _, line := range strings.Split(fm[1], "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %s: %s\n", strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if kw := bodyLine(bodyKeywordsRe, body); kw != "" {
		fmt.Fprintf(&b, "  keywords: %s\n", kw)
	}
	if tags := bodyLine(bodyTagsRe, body); tags != "" {
		fmt.Fprintf(&b, "  tags: %s\n", tags)
	}
	if table := paramTableRe.FindStringSubmatch(content); table != nil {
		b.WriteString("  parameters:\n")
		for _, row := range strings.Split(strings.TrimSpace(table[1]), "\n") {
			cells := strings.Split(row, "|")
			if len(cells) < 4 {
				continue
			}
			pname := strings.Trim(strings.TrimSpace(cells[1]), "`")
			ptype := strings.TrimSpace(cells[2])
			preq := strings.TrimSpace(cells[3])
			if pname == "" {
				continue
			}
			fmt.Fprintf(&b, "    - %s (%s, %s)\n", pname, ptype, preq)
		}
	}
	return b.String()
}
