package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/you/gnasty-live/internal/core"
)

// TokenFiles locates the access and refresh token of one platform on disk.
type TokenFiles struct {
	AccessPath  string
	RefreshPath string
}

// FileStore keeps one access and one refresh token file per platform. Access
// tokens are written with the "oauth:" prefix so the files stay interchangeable
// with IRC tooling.
type FileStore struct {
	mu    sync.Mutex
	files map[core.Platform]TokenFiles
}

// NewFileStore places token files under dir (<platform>_access.txt,
// <platform>_refresh.txt) unless overrides names explicit paths.
func NewFileStore(dir string, overrides map[core.Platform]TokenFiles) *FileStore {
	files := make(map[core.Platform]TokenFiles, len(core.Platforms))
	for _, p := range core.Platforms {
		tf := TokenFiles{}
		if dir != "" {
			tf.AccessPath = filepath.Join(dir, string(p)+"_access.txt")
			tf.RefreshPath = filepath.Join(dir, string(p)+"_refresh.txt")
		}
		if o, ok := overrides[p]; ok {
			if o.AccessPath != "" {
				tf.AccessPath = o.AccessPath
			}
			if o.RefreshPath != "" {
				tf.RefreshPath = o.RefreshPath
			}
		}
		files[p] = tf
	}
	return &FileStore{files: files}
}

func (s *FileStore) Files(p core.Platform) TokenFiles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[p]
}

// Paths lists every configured token file, for watching.
func (s *FileStore) Paths() map[string]core.Platform {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.Platform)
	for p, tf := range s.files {
		if tf.AccessPath != "" {
			out[tf.AccessPath] = p
		}
		if tf.RefreshPath != "" {
			out[tf.RefreshPath] = p
		}
	}
	return out
}

func (s *FileStore) Load(p core.Platform) (Token, error) {
	tf := s.Files(p)
	access, err := readTrimmed(tf.AccessPath)
	if err != nil {
		return Token{}, fmt.Errorf("credentials: read %s access: %w", p, err)
	}
	refresh, err := readTrimmed(tf.RefreshPath)
	if err != nil {
		return Token{}, fmt.Errorf("credentials: read %s refresh: %w", p, err)
	}
	tok := Token{Access: BareToken(access), Refresh: refresh}
	if tok.Access == "" && tok.Refresh == "" {
		return Token{}, ErrNoToken
	}
	return tok, nil
}

func (s *FileStore) Save(p core.Platform, tok Token) error {
	tf := s.Files(p)
	if strings.TrimSpace(tf.AccessPath) == "" {
		return fmt.Errorf("credentials: no access token file for %s", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicWrite(tf.AccessPath, []byte(NormalizeToken(tok.Access)+"\n"), 0o600); err != nil {
		return fmt.Errorf("credentials: write %s access: %w", p, err)
	}
	if tok.Refresh != "" && tf.RefreshPath != "" {
		if err := atomicWrite(tf.RefreshPath, []byte(strings.TrimSpace(tok.Refresh)+"\n"), 0o600); err != nil {
			return fmt.Errorf("credentials: write %s refresh: %w", p, err)
		}
	}
	return nil
}

func readTrimmed(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Chmod(path, mode)
}
