package bid

import (
	"context"
	"time"
)

// SessionProvider obtains a fresh anti-forgery token from the registry.
type SessionProvider interface {
	AcquireToken(ctx context.Context) (string, error)
}

// ChallengeSource downloads a CAPTCHA image bound to the current session.
type ChallengeSource interface {
	FetchChallenge(ctx context.Context) ([]byte, error)
}

// Recognizer turns a CAPTCHA image into candidate text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Searcher submits a search for the given date.
type Searcher interface {
	Submit(ctx context.Context, token, captcha, date string) (SearchResponse, error)
}

// MediaFetcher downloads supporting media for a record. An empty path with a
// nil error means no media is available.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, subjectCode, name string) (string, error)
}

// CardRenderer renders the image posted for a record.
type CardRenderer interface {
	RenderCard(ctx context.Context, record Record, mediaPath string) (string, error)
}

// Poster hands a record and its card to the downstream publishing channel.
type Poster interface {
	Publish(ctx context.Context, record Record, cardPath string) error
}

// ArtifactCleaner removes temporary files. Empty or missing paths are ignored.
type ArtifactCleaner interface {
	Cleanup(mediaPath, cardPath string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
