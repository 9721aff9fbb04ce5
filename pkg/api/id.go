package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	projectIDPrefix = "proj_"
	shareTokenLen   = 16
)

// NewProjectID generates a project ID: "proj_" followed by a random UUID.
func NewProjectID() string {
	return projectIDPrefix + uuid.NewString()
}

// ValidateProjectID reports whether id has the project ID format.
func ValidateProjectID(id string) bool {
	rest, ok := strings.CutPrefix(id, projectIDPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// NewShareToken derives a share token for projectID: the first 16 hex
// characters of SHA-256 over the project ID, the creation time and 16
// random bytes.
func NewShareToken(projectID string, now time.Time) string {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	h := sha256.New()
	h.Write([]byte(projectID))
	h.Write([]byte(now.UTC().Format(time.RFC3339Nano)))
	h.Write(salt)
	return hex.EncodeToString(h.Sum(nil))[:shareTokenLen]
}

// ValidateShareToken reports whether token has the share token format.
func ValidateShareToken(token string) bool {
	if len(token) != shareTokenLen {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
