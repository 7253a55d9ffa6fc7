// Package credentials resolves the API key used to authenticate against the
// query engine.
package credentials

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when no credential of the requested kind exists.
var ErrNotFound = errors.New("credential not found")

// Provider supplies an opaque API token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static returns a fixed token.
type Static string

// Token implements Provider.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("static token: %w", ErrNotFound)
	}
	return string(s), nil
}

// Sheet reads tokens from a spreadsheet published as CSV. The sheet has a
// header row with a "type" and a "context" column; the token is the context
// of the first row whose type equals Kind.
type Sheet struct {
	URL        string
	Kind       string
	HTTPClient *http.Client
}

// NewSheet creates a sheet provider for kind.
func NewSheet(url, kind string) *Sheet {
	return &Sheet{
		URL:        url,
		Kind:       kind,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Token implements Provider. It downloads the sheet on every call.
func (s *Sheet) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create sheet request: %w", err)
	}

	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download credential sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download credential sheet: status %d", resp.StatusCode)
	}

	token, err := lookup(resp.Body, s.Kind)
	if err != nil {
		return "", err
	}
	log.Debug().Str("kind", s.Kind).Msg("Credential loaded from sheet")
	return token, nil
}

func lookup(r io.Reader, kind string) (string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return "", fmt.Errorf("read sheet header: %w", err)
	}
	typeCol, contextCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "type":
			typeCol = i
		case "context":
			contextCol = i
		}
	}
	if typeCol < 0 || contextCol < 0 {
		return "", fmt.Errorf("sheet header %v: need type and context columns", header)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read sheet: %w", err)
		}
		if typeCol >= len(record) || contextCol >= len(record) {
			continue
		}
		if strings.TrimSpace(record[typeCol]) == kind {
			return strings.TrimSpace(record[contextCol]), nil
		}
	}
	return "", fmt.Errorf("sheet kind %q: %w", kind, ErrNotFound)
}
