package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArticle_DisplayTitle(t *testing.T) {
	t.Run("falls back to original title", func(t *testing.T) {
		a := Article{Title: "Original"}
		assert.Equal(t, "Original", a.DisplayTitle())
	})

	t.Run("prefers rewritten title", func(t *testing.T) {
		a := Article{Title: "Original", RewrittenTitle: "Rewritten"}
		assert.Equal(t, "Rewritten", a.DisplayTitle())
	})
}

func TestArticle_HasReadableContent(t *testing.T) {
	tests := []struct {
		status ContentStatus
		want   bool
	}{
		{ContentStatusNone, false},
		{ContentStatusSuccess, true},
		{ContentStatusPaywall, false},
		{ContentStatusBlocked, false},
		{ContentStatusTimeout, false},
		{ContentStatusNotFound, false},
		{ContentStatusError, false},
	}

	for _, tt := range tests {
		a := Article{ContentStatus: tt.status}
		assert.Equal(t, tt.want, a.HasReadableContent())
	}
}

func TestArticle_Validate(t *testing.T) {
	tests := []struct {
		name    string
		article Article
		wantErr bool
	}{
		{
			name:    "valid article",
			article: Article{CanonicalURL: "https://example.com/a", Title: "Headline", SourceID: 1},
			wantErr: false,
		},
		{
			name:    "missing canonical url",
			article: Article{Title: "Headline", SourceID: 1},
			wantErr: true,
		},
		{
			name:    "missing title",
			article: Article{CanonicalURL: "https://example.com/a", SourceID: 1},
			wantErr: true,
		},
		{
			name:    "missing source id",
			article: Article{CanonicalURL: "https://example.com/a", Title: "Headline"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.article.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestArticle_ZeroValue(t *testing.T) {
	var a Article

	assert.Equal(t, int64(0), a.ID)
	assert.Equal(t, "", a.CanonicalURL)
	assert.Nil(t, a.PublishedAt)
	assert.True(t, a.FetchedAt.IsZero())
	assert.Equal(t, ContentStatusNone, a.ContentStatus)
}

func TestArticle_ContentFields(t *testing.T) {
	now := time.Now()
	wc := 512
	a := Article{
		ContentText:      "body text",
		ContentWordCount: &wc,
		ContentStatus:    ContentStatusSuccess,
		ContentFetchedAt: &now,
	}

	assert.Equal(t, ContentStatusSuccess, a.ContentStatus)
	assert.Equal(t, 512, *a.ContentWordCount)
	assert.True(t, a.HasReadableContent())
}
