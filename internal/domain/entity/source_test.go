package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSource_Kind(t *testing.T) {
	tests := []struct {
		name    string
		feedURL string
		want    string
	}{
		{"rss", "rss://https://example.com/feed.xml", "rss"},
		{"web", "web://example.com", "web"},
		{"web-discovery", "web-discovery://climate policy ruling", "web-discovery"},
		{"unknown", "https://example.com/feed.xml", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Source{FeedURL: tt.feedURL}
			assert.Equal(t, tt.want, s.Kind())
		})
	}
}

func TestSource_Descriptor(t *testing.T) {
	s := Source{FeedURL: "web://grist.org"}
	assert.Equal(t, "grist.org", s.Descriptor())

	s2 := Source{FeedURL: "rss://https://grist.org/feed"}
	assert.Equal(t, "https://grist.org/feed", s2.Descriptor())
}

func TestSource_Validate(t *testing.T) {
	tests := []struct {
		name    string
		source  Source
		wantErr bool
	}{
		{
			name:    "valid rss source",
			source:  Source{Slug: "grist", FeedURL: "rss://https://grist.org/feed", Weight: 5},
			wantErr: false,
		},
		{
			name:    "missing slug",
			source:  Source{FeedURL: "rss://https://grist.org/feed"},
			wantErr: true,
		},
		{
			name:    "missing feed url",
			source:  Source{Slug: "grist"},
			wantErr: true,
		},
		{
			name:    "invalid scheme",
			source:  Source{Slug: "grist", FeedURL: "https://grist.org/feed"},
			wantErr: true,
		},
		{
			name:    "negative weight",
			source:  Source{Slug: "grist", FeedURL: "web://grist.org", Weight: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSource_RecordFetchSuccess(t *testing.T) {
	s := Source{ConsecutiveFailures: 2, FetchStatus: FetchStatusError}
	now := time.Now()
	s.RecordFetchSuccess(now)

	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, FetchStatusOK, s.FetchStatus)
	assert.Equal(t, &now, s.LastFetchedAt)
}

func TestSource_RecordFetchFailure(t *testing.T) {
	s := Source{}
	now := time.Now()

	s.RecordFetchFailure(now)
	assert.Equal(t, 1, s.ConsecutiveFailures)
	assert.Equal(t, FetchStatusUnknown, s.FetchStatus)

	s.RecordFetchFailure(now)
	assert.Equal(t, 2, s.ConsecutiveFailures)
	assert.Equal(t, FetchStatusUnknown, s.FetchStatus)

	// third consecutive failure flips status to error
	s.RecordFetchFailure(now)
	assert.Equal(t, 3, s.ConsecutiveFailures)
	assert.Equal(t, FetchStatusError, s.FetchStatus)
}
