package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/trailhead-sec/scantrail/pkg/apperrors"
	"github.com/trailhead-sec/scantrail/pkg/models"
)

// Export column names, consumed verbatim from the scan tool's CSV.
const (
	colMessage  = "Message"
	colType     = "Type"
	colSeverity = "Severity"
	colRuleKey  = "Rule Key"
	colRuleName = "Rule Name"
	colFileName = "File Name"
	colFileLine = "File Line"
)

var requiredColumns = []string{
	colMessage, colType, colSeverity, colRuleKey, colRuleName, colFileName, colFileLine,
}

// FindExportFile walks the extracted tree looking for the findings
// export: the first CSV file (in lexical walk order) whose header row
// carries all required columns. Archive layouts vary between scan
// tool versions, so the location within the tree is not assumed.
// Returns ErrExportFileNotFound if no candidate matches. The walk is
// read-only.
func FindExportFile(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".csv") {
			return nil
		}
		ok, err := hasRequiredColumns(path)
		if err != nil {
			return err
		}
		if ok {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search for export file: %w", err)
	}
	if found == "" {
		return "", apperrors.ErrExportFileNotFound
	}
	return found, nil
}

// hasRequiredColumns reads only the header row of a candidate CSV.
func hasRequiredColumns(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open candidate %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		// An empty or malformed candidate is not the export file.
		return false, nil
	}
	_, err = mapColumns(header)
	return err == nil, nil
}

// mapColumns resolves required column names to their positions.
func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}

// FindingScanner streams findings from an export file one row at a
// time, so memory use is bounded by the row, not the file. The
// sequence is forward-only and not restartable.
type FindingScanner struct {
	file    *os.File
	reader  *csv.Reader
	cols    map[string]int
	current *models.Finding
	err     error
}

// OpenExport opens the export file at path and validates its header.
func OpenExport(path string) (*FindingScanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}

	r := csv.NewReader(f)
	// Rows may carry trailing columns from newer scan tool versions.
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read export header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("invalid export header: %w", err)
	}

	return &FindingScanner{file: f, reader: r, cols: cols}, nil
}

// Next advances to the next row. It returns false at end of input or
// on error; Err distinguishes the two.
func (s *FindingScanner) Next() bool {
	if s.err != nil {
		return false
	}
	record, err := s.reader.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		s.err = fmt.Errorf("failed to read export row: %w", err)
		return false
	}
	s.current = s.normalize(record)
	return true
}

// Finding returns the row read by the last successful Next.
func (s *FindingScanner) Finding() *models.Finding {
	return s.current
}

// Err returns the first error encountered while scanning.
func (s *FindingScanner) Err() error {
	return s.err
}

// Close releases the underlying file.
func (s *FindingScanner) Close() error {
	return s.file.Close()
}

// normalize converts a raw record into a typed finding. A missing or
// unparsable File Line is treated as line 0 by policy, not an error.
func (s *FindingScanner) normalize(record []string) *models.Finding {
	field := func(name string) string {
		idx := s.cols[name]
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	line := 0
	if raw := field(colFileLine); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			line = parsed
		}
	}

	issueType := field(colType)
	severity := field(colSeverity)

	return &models.Finding{
		Message:     field(colMessage),
		Type:        issueType,
		Severity:    severity,
		RuleKey:     field(colRuleKey),
		RuleName:    field(colRuleName),
		FileName:    field(colFileName),
		FileLine:    line,
		TypeIdx:     models.TypeIndex(issueType),
		SeverityIdx: models.SeverityIndex(severity),
		LineGroup:   models.LineGroup(line),
	}
}

// ReadFindings drains a scanner into memory, up to maxRows rows.
// The resolver needs the full scan in memory to partition it against
// the project catalog; maxRows bounds that allocation. The returned
// flag reports whether rows beyond the cap were left unread, so the
// caller can tell a full ingest from a truncated one.
func ReadFindings(s *FindingScanner, maxRows int) ([]*models.Finding, bool, error) {
	findings := make([]*models.Finding, 0, 256)
	truncated := false
	for s.Next() {
		if len(findings) >= maxRows {
			truncated = true
			break
		}
		findings = append(findings, s.Finding())
	}
	if err := s.Err(); err != nil {
		return nil, false, err
	}
	return findings, truncated, nil
}
