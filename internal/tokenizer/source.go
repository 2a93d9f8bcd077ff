package tokenizer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	hubBaseURL  = "https://huggingface.co"
	httpTimeout = 30 * time.Second
)

// Source yields a ready tokenizer. There are exactly two implementations:
// LocalSource reads a definition file from disk, RemoteSource fetches one
// from the hub.
type Source interface {
	Load(ctx context.Context) (*Tokenizer, error)
}

// Acquire resolves name to a source and loads the tokenizer from it. The
// bearer credential for remote fetches is read from the environment
// (HF_TOKEN, or HUGGING_FACE_HUB_TOKEN as a fallback). It is fully
// synchronous: when it returns, the tokenizer is ready or the run is dead.
func Acquire(ctx context.Context, name, revision string) (*Tokenizer, error) {
	return ResolveSource(name, revision).Load(ctx)
}

// ResolveSource picks the local source when name is a directory containing a
// definition file, the remote source otherwise. Revision and credentials are
// meaningless for local directories and are ignored there.
func ResolveSource(name, revision string) Source {
	if isLocalDir(name) {
		return LocalSource{Dir: name}
	}
	return NewRemoteSource(name, revision)
}

func isLocalDir(name string) bool {
	info, err := os.Stat(name)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(name, DefinitionFile))
	return err == nil
}

// LocalSource loads a tokenizer definition from a directory on disk.
// It performs no network access.
type LocalSource struct {
	Dir string
}

func (s LocalSource) Load(_ context.Context) (*Tokenizer, error) {
	path := filepath.Join(s.Dir, DefinitionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: NotFound, Name: s.Dir, Err: err}
		}
		return nil, &Error{Kind: InvalidFormat, Name: s.Dir, Err: err}
	}
	return parse(s.Dir, data)
}

// RemoteSource fetches a tokenizer definition from the hub, scoped to a
// revision and optionally authenticated with a bearer token.
type RemoteSource struct {
	ID        string
	Revision  string
	AuthToken string
	// BaseURL overrides the hub endpoint, used by tests.
	BaseURL string

	client *http.Client
}

// NewRemoteSource builds a RemoteSource for a hub model id, reading the
// bearer credential from the process environment.
func NewRemoteSource(id, revision string) RemoteSource {
	token := os.Getenv("HF_TOKEN")
	if token == "" {
		token = os.Getenv("HUGGING_FACE_HUB_TOKEN")
	}
	return RemoteSource{
		ID:        id,
		Revision:  revision,
		AuthToken: token,
		BaseURL:   hubBaseURL,
		client:    &http.Client{Timeout: httpTimeout},
	}
}

func (s RemoteSource) Load(ctx context.Context) (*Tokenizer, error) {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", s.BaseURL, s.ID, s.Revision, DefinitionFile)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: DownloadFailed, Name: s.ID, Err: err}
	}
	if s.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AuthToken)
	}

	client := s.client
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Kind: DownloadFailed, Name: s.ID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &Error{
			Kind: NotFound,
			Name: s.ID,
			Err:  fmt.Errorf("revision %q has no %s on the hub", s.Revision, DefinitionFile),
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &Error{
			Kind: DownloadFailed,
			Name: s.ID,
			Err:  fmt.Errorf("hub returned HTTP %d, set HF_TOKEN for gated models", resp.StatusCode),
		}
	default:
		return nil, &Error{
			Kind: DownloadFailed,
			Name: s.ID,
			Err:  fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, url),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: DownloadFailed, Name: s.ID, Err: err}
	}
	return parse(s.ID, data)
}
