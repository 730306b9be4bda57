// Package planregistry persists bound deployment plans on disk.
package planregistry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrPlanNotFound indicates no record exists for a plan id.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidPlanID indicates a plan id that cannot name a directory.
	ErrInvalidPlanID = errors.New("invalid plan_id")
)

// Store persists and loads PlanRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<plan_id>/plan.json
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

// NewPlanID returns a fresh plan identifier.
func NewPlanID() string {
	return uuid.NewString()
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) PlanDir(planID string) string {
	return filepath.Join(s.root, planID)
}

func (s *Store) PlanPath(planID string) string {
	return filepath.Join(s.PlanDir(planID), "plan.json")
}

func (s *Store) ensureRoot() error {
	if s.root == "" {
		return fmt.Errorf("plan registry root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

func validPlanID(planID string) (string, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return "", fmt.Errorf("%w: plan_id is required", ErrInvalidPlanID)
	}
	if strings.ContainsAny(planID, `/\`) || planID == "." || planID == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlanID, planID)
	}
	return planID, nil
}

// Write stores record atomically via a temp file and rename.
func (s *Store) Write(record *PlanRecord) error {
	if record == nil {
		return fmt.Errorf("plan record is nil")
	}
	planID, err := validPlanID(record.PlanID)
	if err != nil {
		return err
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	planDir := s.PlanDir(planID)
	if err := os.MkdirAll(planDir, 0755); err != nil {
		return fmt.Errorf("create plan dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(planDir, "plan.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp plan file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp plan file: %w", err)
	}

	if err := os.Rename(tmpName, s.PlanPath(planID)); err != nil {
		return fmt.Errorf("rename plan file: %w", err)
	}
	return nil
}

// Get loads one record. Missing plans report ErrPlanNotFound.
func (s *Store) Get(planID string) (*PlanRecord, error) {
	planID, err := validPlanID(planID)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.PlanPath(planID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("plan.json is empty")
	}

	var record PlanRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse plan.json: %w", err)
	}
	return &record, nil
}

// List returns every readable record, newest first. Unreadable entries are
// skipped.
func (s *Store) List() ([]PlanRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plans root: %w", err)
	}

	out := make([]PlanRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Latest returns the newest record for deployment.
func (s *Store) Latest(deployment string) (*PlanRecord, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Deployment == deployment {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no plan for deployment %s", ErrPlanNotFound, deployment)
}
