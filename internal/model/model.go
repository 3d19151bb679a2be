// Package model defines domain entities used by services and repositories.
package model

import (
	"strings"
	"time"
)

// Gender selects the model described in the generation prompt.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

// Valid reports whether g is a known gender.
func (g Gender) Valid() bool { return g == GenderFemale || g == GenderMale }

// AspectRatio is the output frame requested from the generation backend.
type AspectRatio string

const (
	Aspect9x16 AspectRatio = "9:16"
	Aspect3x4  AspectRatio = "3:4"
	Aspect1x1  AspectRatio = "1:1"
	Aspect4x3  AspectRatio = "4:3"
	Aspect16x9 AspectRatio = "16:9"

	// DefaultAspectRatio is used when a request leaves the ratio empty.
	DefaultAspectRatio = Aspect9x16
)

// AspectRatios lists every supported ratio in display order.
var AspectRatios = []AspectRatio{Aspect9x16, Aspect3x4, Aspect1x1, Aspect4x3, Aspect16x9}

// Valid reports whether a is one of AspectRatios.
func (a AspectRatio) Valid() bool {
	for _, r := range AspectRatios {
		if a == r {
			return true
		}
	}
	return false
}

// Params are the structured inputs shared by every variation of one batch.
type Params struct {
	Gender       Gender
	ThemeID      string
	AspectRatio  AspectRatio
	PoseID       string
	Description  string
	ProductImage []byte // required
	ModelImage   []byte // optional
}

// GenerationRequest is one variation of a batch; it lives only for the duration of a remote call.
type GenerationRequest struct {
	Index  int
	Params Params
}

// GenerationResult is a single generated image shown to the user.
type GenerationResult struct {
	ID           string `json:"id"`
	URL          string `json:"url"` // data URI until archived, durable URL afterwards
	Regenerating bool   `json:"isRegenerating,omitempty"`
}

// GenerationSession is one archived batch stored in a user's history.
type GenerationSession struct {
	ID              string             `json:"session_id"`
	Email           string             `json:"-"`
	Timestamp       int64              `json:"timestamp"` // unix milliseconds
	Theme           string             `json:"theme"`
	Gender          Gender             `json:"gender"`
	AspectRatio     AspectRatio        `json:"aspectRatio"`
	ProductImageURL string             `json:"productImageUrl,omitempty"`
	ModelImageURL   string             `json:"modelImageUrl,omitempty"`
	Results         []GenerationResult `json:"results"`
}

// CreatedAt returns the session timestamp as time.
func (s GenerationSession) CreatedAt() time.Time { return time.UnixMilli(s.Timestamp) }

// Archived holds durable URLs produced by the archiver, aligned with the archived results.
type Archived struct {
	URLs       []string
	ProductURL string // empty if the product upload failed
	ModelURL   string // empty if absent or failed
}

// UploadItem is one base64 payload submitted for durable storage.
type UploadItem struct {
	Base64   string `json:"base64"`
	Filename string `json:"filename"`
}

// User is an allow-listed account together with its usage counter.
type User struct {
	Email        string `json:"email"`
	RequestCount int    `json:"request_count"`
}

// Tokens is the bearer credential issued on login.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// NormalizeEmail returns the canonical, case-insensitive form of an identity.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SameIdentity compares two identities case-insensitively.
func SameIdentity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
