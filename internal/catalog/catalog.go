// Package catalog reads the paper list (the "### Projects" table of the
// awesome-list README) and tracks which documents are currently live.
package catalog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"primate-rag/internal/domain"
)

const projectsHeading = "### Projects"

var (
	linkRe = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)

	// Library proxy hosts such as www-nature-com.proxy.library.example.edu.
	proxyLibraryRe = regexp.MustCompile(`^https?://([^./]+)\.proxy\.library\.[^/]+(/.*)?$`)
	proxyRe        = regexp.MustCompile(`^https?://([^./]+)\.proxy\.[^/]+(/.*)?$`)
)

type column int

const (
	colYear column = iota
	colTitle
	colTopics
	colSpecies
	colModel
	colData
	colCode
	numColumns
)

// ParseFile parses the README at path.
func ParseFile(path string) ([]domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse extracts documents from the "### Projects" table. Table rows are
// lines with exactly eight '|' characters; the first is the header and the
// second the separator. Paper ids are paper_<row>, 1-based.
func Parse(r io.Reader) ([]domain.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var rows [][]string
	inProjects := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == projectsHeading {
			inProjects = true
			continue
		}
		if !inProjects {
			continue
		}
		if strings.HasPrefix(line, "### ") && !strings.Contains(line, "Projects") {
			break
		}
		if strings.Count(line, "|") == 8 {
			cells := strings.Split(line, "|")
			cells = cells[1 : len(cells)-1]
			for i := range cells {
				cells[i] = strings.TrimSpace(cells[i])
			}
			rows = append(rows, cells)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("parse catalog: %w: no projects table found", domain.ErrInvalidInput)
	}

	cols := columns(rows[0])
	if cols[colTitle] < 0 {
		return nil, fmt.Errorf("parse catalog: %w: no paper column in header %v", domain.ErrInvalidInput, rows[0])
	}
	docs := make([]domain.Document, 0, len(rows)-2)
	for i, row := range rows[2:] {
		cell := func(c column) string {
			if cols[c] < 0 {
				return ""
			}
			return row[cols[c]]
		}
		title, url := splitLink(cell(colTitle))
		docs = append(docs, domain.Document{
			ID:      fmt.Sprintf("paper_%d", i+1),
			Title:   title,
			Year:    parseYear(cell(colYear)),
			Species: plain(cell(colSpecies)),
			Topics:  plain(cell(colTopics)),
			URL:     CleanURL(url),
			HasCode: hasCode(cell(colModel), cell(colCode)),
		})
	}
	return docs, nil
}

// columns maps header names to cell positions; -1 marks an absent column.
func columns(header []string) [numColumns]int {
	var idx [numColumns]int
	for i := range idx {
		idx[i] = -1
	}
	set := func(c column, i int) {
		if idx[c] < 0 {
			idx[c] = i
		}
	}
	for i, h := range header {
		h = strings.ToLower(plain(h))
		switch {
		case strings.Contains(h, "year"):
			set(colYear, i)
		case strings.Contains(h, "paper"), strings.Contains(h, "name"), strings.Contains(h, "title"):
			set(colTitle, i)
		case strings.Contains(h, "topic"):
			set(colTopics, i)
		case strings.Contains(h, "animal"), strings.Contains(h, "species"):
			set(colSpecies, i)
		case strings.Contains(h, "model"):
			set(colModel, i)
		case strings.Contains(h, "data"):
			set(colData, i)
		case strings.Contains(h, "code"):
			set(colCode, i)
		}
	}
	return idx
}

// splitLink returns the text and target of the first markdown link in cell,
// or the cell itself when there is none.
func splitLink(cell string) (string, string) {
	m := linkRe.FindStringSubmatch(cell)
	if m == nil {
		return strings.TrimSpace(cell), ""
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
}

// plain replaces markdown links with their text.
func plain(cell string) string {
	return strings.TrimSpace(linkRe.ReplaceAllString(cell, "$1"))
}

func parseYear(cell string) int {
	digits := strings.TrimFunc(plain(cell), func(r rune) bool { return r < '0' || r > '9' })
	year, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return year
}

func hasCode(model, code string) bool {
	model = plain(model)
	if strings.Contains(model, "Yes") || strings.Contains(model, "Code only") {
		return true
	}
	code = strings.ToLower(plain(code))
	return code != "" && code != "no" && code != "-"
}

// CleanURL rewrites university library proxy links to the publisher's host,
// e.g. https://www-nature-com.proxy.library.uu.nl/x -> https://www.nature.com/x.
func CleanURL(url string) string {
	for _, re := range []*regexp.Regexp{proxyLibraryRe, proxyRe} {
		if m := re.FindStringSubmatch(url); m != nil {
			return "https://" + strings.ReplaceAll(m[1], "-", ".") + m[2]
		}
	}
	return url
}
