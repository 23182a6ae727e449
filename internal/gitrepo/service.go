package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	mainBranch  = "main"
	contentFile = "business_case.json"
)

// ErrNotFound is returned when an intake has no business case repository yet.
var ErrNotFound = errors.New("business case not found")

// Content is the versioned body of a business case.
type Content struct {
	Title        string `json:"title"`
	BusinessNeed string `json:"businessNeed"`
	Solution     string `json:"solution"`
	Alternatives string `json:"alternatives"`
	CostEstimate string `json:"costEstimate"`
}

// Author identifies who saved a version.
type Author struct {
	Name  string
	Email string
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Changed   []string  `json:"changed,omitempty"`
}

// Service stores one git repository per intake under baseDir. Writes to
// the same intake are serialized; different intakes proceed in parallel.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Save commits content as the new head of the intake's business case.
// The repository is created on first save. Saving content identical to the
// head returns the head commit without writing a new one.
func (s *Service) Save(intakeID string, content Content, author Author, message string) (CommitInfo, error) {
	lock := s.intakeLock(intakeID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(intakeID)
	if err != nil {
		return CommitInfo{}, err
	}

	if head, headCommit, err := headOf(repo); err == nil {
		if !HasChanges(head, content) {
			return toCommitInfo(headCommit), nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return CommitInfo{}, err
	}

	if message == "" {
		message = "Update business case"
	}
	hash, err := s.commit(repo, content, author, message)
	if err != nil {
		return CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// Head returns the latest saved content and its commit.
func (s *Service) Head(intakeID string) (Content, CommitInfo, error) {
	lock := s.intakeLock(intakeID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(intakeID)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	content, commitObj, err := headOf(repo)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

func (s *Service) ContentAt(intakeID, hash string) (Content, error) {
	lock := s.intakeLock(intakeID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(intakeID)
	if err != nil {
		return Content{}, err
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContentFromCommit(commitObj)
}

// History lists versions newest first. Each entry names the fields that
// changed relative to its parent. limit <= 0 means no limit.
func (s *Service) History(intakeID string, limit int) ([]CommitInfo, error) {
	lock := s.intakeLock(intakeID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(intakeID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		info := toCommitInfo(commitObj)
		current, err := readContentFromCommit(commitObj)
		if err != nil {
			return err
		}
		var previous Content
		if commitObj.NumParents() > 0 {
			parent, err := commitObj.Parent(0)
			if err != nil {
				return fmt.Errorf("load parent of %s: %w", info.Hash, err)
			}
			if previous, err = readContentFromCommit(parent); err != nil {
				return err
			}
		}
		info.Changed = DiffFields(previous, current)
		items = append(items, info)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(intakeID string) string {
	return filepath.Join(s.baseDir, intakeID)
}

func (s *Service) intakeLock(intakeID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[intakeID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[intakeID] = lock
	return lock
}

func (s *Service) open(intakeID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(intakeID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(intakeID string) (*git.Repository, error) {
	repo, err := s.open(intakeID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	path := s.repoPath(intakeID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, content Content, author Author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author.Name,
			Email: authorEmail(author),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headOf(repo *git.Repository) (Content, *object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Content{}, nil, ErrNotFound
	}
	if err != nil {
		return Content{}, nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Content{}, nil, fmt.Errorf("load commit object: %w", err)
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, nil, err
	}
	return content, commitObj, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	raw, err := file.Contents()
	if err != nil {
		return Content{}, fmt.Errorf("read content: %w", err)
	}
	var content Content
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// DiffFields returns the sorted JSON names of fields that differ.
func DiffFields(from, to Content) []string {
	pairs := []struct {
		field  string
		before string
		after  string
	}{
		{"title", from.Title, to.Title},
		{"businessNeed", from.BusinessNeed, to.BusinessNeed},
		{"solution", from.Solution, to.Solution},
		{"alternatives", from.Alternatives, to.Alternatives},
		{"costEstimate", from.CostEstimate, to.CostEstimate},
	}
	changed := make([]string, 0, len(pairs))
	for _, item := range pairs {
		if item.before != item.after {
			changed = append(changed, item.field)
		}
	}
	sort.Strings(changed)
	return changed
}

func HasChanges(from, to Content) bool {
	return from != to
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func authorEmail(author Author) string {
	if author.Email != "" {
		return author.Email
	}
	return sanitizeName(author.Name) + "@govreview.local"
}

func sanitizeName(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
