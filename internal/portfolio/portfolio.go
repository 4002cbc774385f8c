package portfolio

import (
	"crypto/sha256"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry pairs a set of skill tags with a demonstrative portfolio link.
// Entries are loaded once at startup and never mutated afterwards.
type Entry struct {
	Skillset []string `json:"skillset"`
	Link     string   `json:"link"`
}

// LoadCSV reads portfolio entries from a tabular resource with a header row
// naming a skillset column (comma-joined tags) and a link column. Rows with
// no usable skills or link are skipped.
func LoadCSV(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open portfolio file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read portfolio header: %w", err)
	}

	skillCol, linkCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "techstack", "skillset", "skills":
			skillCol = i
		case "links", "link":
			linkCol = i
		}
	}

	if skillCol == -1 || linkCol == -1 {
		return nil, fmt.Errorf("portfolio file %s: header must name a skillset and a link column, got %v", path, header)
	}

	var entries []Entry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read portfolio row: %w", err)
		}

		if skillCol >= len(record) || linkCol >= len(record) {
			continue
		}

		skillset := splitSkills(record[skillCol])
		link := strings.TrimSpace(record[linkCol])
		if len(skillset) == 0 || link == "" {
			continue
		}

		entries = append(entries, Entry{Skillset: skillset, Link: link})
	}

	return entries, nil
}

// SourceHash returns the sha256 of the portfolio file, used to decide whether
// an existing on-disk index is still built from the same source.
func SourceHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hash portfolio file: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

func splitSkills(joined string) []string {
	var skills []string
	for _, part := range strings.Split(joined, ",") {
		if skill := strings.TrimSpace(part); skill != "" {
			skills = append(skills, skill)
		}
	}
	return skills
}
