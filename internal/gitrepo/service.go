// Package gitrepo keeps a git history of the chat document, one commit per write.
package gitrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"phonesync/api/internal/docsync"
	"phonesync/api/internal/markup"
)

const (
	textFile   = "document.txt"
	forumFile  = "forum.json"
	mainBranch = "main"
)

var committer = object.Signature{Name: "phonesync", Email: "phonesync@localhost"}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Recorder returns a docsync.Recorder that commits every revision of chatID.
func (s *Service) Recorder(chatID string) docsync.Recorder {
	return docsync.RecorderFunc(func(_ context.Context, rev docsync.Revision) error {
		_, err := s.Commit(chatID, rev)
		return err
	})
}

// Commit writes the revision into the chat's repository, creating it on first use. A
// revision identical to the head produces no commit and an empty CommitInfo.
func (s *Service) Commit(chatID string, rev docsync.Revision) (CommitInfo, error) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(chatID)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	forum, err := json.MarshalIndent(rev.Document, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal forum: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, textFile), []byte(rev.Text), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", textFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, forumFile), append(forum, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", forumFile, err)
	}
	for _, name := range []string{textFile, forumFile} {
		if _, err := worktree.Add(name); err != nil {
			return CommitInfo{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	when := rev.At
	if when.IsZero() {
		when = time.Now()
	}
	author := committer
	author.When = when
	hash, err := worktree.Commit(commitMessage(rev), &git.CommitOptions{Author: &author})
	if errors.Is(err, git.ErrEmptyCommit) {
		return CommitInfo{}, nil
	}
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit revision: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists commits newest first. A chat without a repository has no history.
func (s *Service) History(chatID string, limit int) ([]CommitInfo, error) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(chatID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitInfo{}, nil
	}
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
		items = append(items, toCommitInfo(commitObj))
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

// TextAt returns the buffer as it was at the given commit (full or abbreviated hash).
func (s *Service) TextAt(chatID, hash string) (string, error) {
	lock := s.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(chatID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readFile(commitObj, textFile)
}

// ForumAt returns the parsed forum stored with the given commit.
func (s *Service) ForumAt(chatID, hash string) (markup.Document, error) {
	text, err := s.TextAt(chatID, hash)
	if err != nil {
		return markup.Document{}, err
	}
	return markup.ParseSection(text), nil
}

func (s *Service) openOrInit(chatID string) (*git.Repository, error) {
	path := s.repoPath(chatID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	return repo, nil
}

func (s *Service) repoPath(chatID string) string {
	return filepath.Join(s.baseDir, chatID)
}

func (s *Service) chatLock(chatID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[chatID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[chatID] = lock
	return lock
}

func commitMessage(rev docsync.Revision) string {
	source := rev.Source
	if source == "" {
		source = docsync.SourceDirect
	}
	return fmt.Sprintf("%s: +%d threads, +%d replies, +%d sub-replies",
		source, rev.Stats.NewThreads, rev.Stats.NewReplies, rev.Stats.NewSubReplies)
}

func readFile(commitObj *object.Commit, name string) (string, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", name, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return contents, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
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
