package persist

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/zeebo/blake3"
)

// Sharer uploads snapshots to write-once public storage. Objects are
// content addressed: the BLAKE3 digest of the uploaded bytes names the
// object, so sharing the same snapshot twice yields the same link and
// a publish can never be altered afterwards. There is no delete.
type Sharer struct {
	// BaseURL of the storage service, e.g. "https://share.example.com".
	BaseURL string
	Client  *http.Client
}

// NewSharer returns a Sharer with a bounded-timeout client.
func NewSharer(baseURL string) *Sharer {
	return &Sharer{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ContentHash returns the hex BLAKE3 digest addressing the given bytes.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Share uploads the snapshot and returns the shareable URL. A storage
// response indicating the object already exists counts as success:
// identical content has an identical address.
func (s *Sharer) Share(ctx context.Context, snap *Snapshot) (string, error) {
	data, err := snap.Encode()
	if err != nil {
		return "", err
	}
	hash := ContentHash(data)
	url := fmt.Sprintf("%s/objects/%s", s.BaseURL, hash)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("share upload: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return url, nil
	default:
		return "", fmt.Errorf("share upload: storage returned %s", resp.Status)
	}
}
