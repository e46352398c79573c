package service

import (
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/haatos/simple-dispatch/internal"
)

// ArtifactLinkService signs download tokens for single artifacts so they can
// be fetched without an API key until the token expires.
type ArtifactLinkService struct {
	s *securecookie.SecureCookie
}

func NewArtifactLinkService(hashKey, blockKey []byte, expires time.Duration) *ArtifactLinkService {
	s := securecookie.New(hashKey, blockKey)
	s.MaxAge(int(expires.Seconds()))
	return &ArtifactLinkService{s: s}
}

func (als *ArtifactLinkService) NewToken(runID string, artifactID int64) (string, error) {
	values := map[string]string{
		"run_id":      runID,
		"artifact_id": fmt.Sprintf("%d", artifactID),
	}
	return als.s.Encode(internal.ArtifactTokenName, values)
}

// ParseToken returns the run and artifact a token was issued for. Expired or
// tampered tokens return an error.
func (als *ArtifactLinkService) ParseToken(token string) (string, int64, error) {
	values := make(map[string]string)
	if err := als.s.Decode(internal.ArtifactTokenName, token, &values); err != nil {
		return "", 0, err
	}
	var artifactID int64
	if _, err := fmt.Sscanf(values["artifact_id"], "%d", &artifactID); err != nil {
		return "", 0, fmt.Errorf("err parsing artifact id: %w", err)
	}
	return values["run_id"], artifactID, nil
}
