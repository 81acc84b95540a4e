package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"synthv/pkg/artifact"
	"synthv/pkg/request"
)

// Fetcher downloads finished assets and registers them as artifacts.
type Fetcher struct {
	Client   *request.Client
	Registry *artifact.Registry
}

// Fetch downloads uri with the credential injected as the "key" query parameter.
// The returned handle belongs to the caller, who must release it when superseded.
func (f *Fetcher) Fetch(ctx context.Context, uri, key, mimeType string) (*artifact.Handle, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, &MissingResultError{}
	}

	u, err := withKey(uri, key)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	resp, err := f.Client.Get(ctx, u)
	if err != nil {
		var se *request.StatusError
		if errors.As(err, &se) {
			return nil, &FetchError{Status: se.Code, Err: err}
		}
		return nil, &FetchError{Err: err}
	}

	if mimeType == "" {
		mimeType = resp.ContentType
	}
	h := f.Registry.Create(resp.Body, mimeType)
	slog.Debug("Fetcher: asset registered", "artifact", h.ID, "bytes", h.Size, "mime", h.MIMEType)
	return h, nil
}

func withKey(uri, key string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid asset uri: %w", err)
	}
	if key != "" {
		q := u.Query()
		q.Set("key", key)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
