package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestBusinessCaseLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, _, err := svc.Head("intake-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Head() before save error = %v, want ErrNotFound", err)
	}

	initial := Content{
		Title:        "Case management modernization",
		BusinessNeed: "Legacy system is out of support",
		Solution:     "Move to a managed platform",
		CostEstimate: "1200000",
	}
	author := Author{Name: "Avery Admin", Email: "avery@example.gov"}

	first, err := svc.Save("intake-1", initial, author, "Draft business case")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if first.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "intake-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	updated := initial
	updated.Solution = "Buy a commercial product"
	updated.CostEstimate = "800000"
	second, err := svc.Save("intake-1", updated, author, "")
	if err != nil {
		t.Fatalf("Save() second error = %v", err)
	}
	if second.Hash == first.Hash {
		t.Fatal("expected a new commit for changed content")
	}

	history, err := svc.History("intake-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Hash != second.Hash {
		t.Fatalf("expected newest first, got %+v", history)
	}
	if got := strings.Join(history[0].Changed, ","); got != "costEstimate,solution" {
		t.Fatalf("unexpected changed fields %q", got)
	}
	if len(history[1].Changed) != 4 {
		t.Fatalf("expected baseline to list every populated field, got %v", history[1].Changed)
	}

	old, err := svc.ContentAt("intake-1", first.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if old != initial {
		t.Fatalf("unexpected content at first commit: %+v", old)
	}

	head, headCommit, err := svc.Head("intake-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head != updated || headCommit.Hash != second.Hash {
		t.Fatalf("unexpected head %+v %+v", head, headCommit)
	}
}

func TestSaveUnchangedContentReturnsHead(t *testing.T) {
	svc := New(t.TempDir())
	content := Content{Title: "Same"}

	first, err := svc.Save("intake-1", content, Author{Name: "Avery"}, "first")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	again, err := svc.Save("intake-1", content, Author{Name: "Avery"}, "again")
	if err != nil {
		t.Fatalf("Save() repeat error = %v", err)
	}
	if again.Hash != first.Hash {
		t.Fatalf("expected head %s, got %s", first.Hash, again.Hash)
	}
	history, err := svc.History("intake-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single commit, got %d", len(history))
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := New(t.TempDir())
	for i := 0; i < 5; i++ {
		if _, err := svc.Save("intake-1", Content{Title: fmt.Sprintf("v%d", i)}, Author{Name: "Avery"}, "edit"); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	history, err := svc.History("intake-1", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
}

func TestConcurrentSaveSameIntake(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.Save("intake-1", Content{Title: "Base"}, Author{Name: "Avery"}, "base"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := Content{Title: "Base", Solution: fmt.Sprintf("solution-%02d", idx)}
			if _, err := svc.Save("intake-1", next, Author{Name: "Avery"}, fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Save() concurrent error = %v", err)
	}

	history, err := svc.History("intake-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits, got %d", writers+1, len(history))
	}
	head, _, err := svc.Head("intake-1")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if !strings.HasPrefix(head.Solution, "solution-") {
		t.Fatalf("unexpected head content after concurrent saves: %+v", head)
	}
}

func TestSanitizeName(t *testing.T) {
	if got := authorEmail(Author{Name: "Avery Q_Admin!"}); got != "Avery.Q.Admin@govreview.local" {
		t.Fatalf("authorEmail() = %q", got)
	}
	if got := authorEmail(Author{Name: "!!"}); got != "user@govreview.local" {
		t.Fatalf("authorEmail() = %q", got)
	}
}
