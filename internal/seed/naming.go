package seed

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NamingStrategy maps seeds to filenames and back.
type NamingStrategy interface {
	// GenerateFilename names s.
	GenerateFilename(s *Seed) string

	// ParseFilename recovers what a generated filename records.
	ParseFilename(filename string) (*Name, error)
}

// Name is the lineage a seed filename records.
type Name struct {
	ID          uint64
	Origin      Origin
	ParentID    uint64
	CovIncrease uint64
	// BranchHash hashes the forced branch location; empty for seeds that
	// did not force a branch.
	BranchHash  string
	ContentHash string
}

// Matches reports whether s is the seed n was generated for.
func (n *Name) Matches(s *Seed) bool {
	return n.ID == s.Meta.ID &&
		n.Origin == s.Meta.Origin &&
		n.ParentID == s.Meta.ParentID &&
		n.BranchHash == branchHash(s.Meta.Branch) &&
		n.ContentHash == GenerateContentHash(s.Content())
}

// LineageNaming names a seed after how the search found it, so a corpus
// listing reads as the search history:
//
//	000007-forced-3f2a9c01-from-000003-cov2-a1b2c3d4.json
//	000001-initial-from-000000-cov3-0badf00d.json
//
// The fields are the seed ID, its origin, the hash of the branch it forced
// (when any), its parent, the branch outcomes it covered first and the
// hash of its invocation.
type LineageNaming struct{}

// NewLineageNaming creates a LineageNaming.
func NewLineageNaming() *LineageNaming {
	return &LineageNaming{}
}

var filenameRegex = regexp.MustCompile(
	`^(\d{6})-(initial|forced|repair|mutation)(?:-([a-f0-9]{8}))?-from-(\d{6})-cov(\d+)-([a-f0-9]{8})\.json$`)

// GenerateFilename names s after its lineage.
func (LineageNaming) GenerateFilename(s *Seed) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%06d-%s", s.Meta.ID, strings.ToLower(string(s.Meta.Origin)))
	if h := branchHash(s.Meta.Branch); h != "" {
		sb.WriteString("-" + h)
	}
	fmt.Fprintf(&sb, "-from-%06d-cov%d-%s.json", s.Meta.ParentID, s.Meta.CovIncrease, GenerateContentHash(s.Content()))
	return sb.String()
}

// ParseFilename recovers the lineage recorded in filename.
func (LineageNaming) ParseFilename(filename string) (*Name, error) {
	m := filenameRegex.FindStringSubmatch(filename)
	if m == nil {
		return nil, fmt.Errorf("filename does not match expected format: %s", filename)
	}

	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ID: %w", err)
	}
	parentID, err := strconv.ParseUint(m[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse parent ID: %w", err)
	}
	cov, err := strconv.ParseUint(m[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse coverage increase: %w", err)
	}

	return &Name{
		ID:          id,
		Origin:      Origin(strings.ToUpper(m[2])),
		ParentID:    parentID,
		CovIncrease: cov,
		BranchHash:  m[3],
		ContentHash: m[6],
	}, nil
}

// GenerateContentHash returns an 8-character hex hash of content.
func GenerateContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", h[:4])
}

func branchHash(branch string) string {
	if branch == "" {
		return ""
	}
	return GenerateContentHash(branch)
}
