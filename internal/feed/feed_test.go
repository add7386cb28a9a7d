package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/claim-radar/backend/internal/feed"
	"github.com/DeafMist/claim-radar/backend/internal/logger"
	"github.com/DeafMist/claim-radar/backend/internal/models"
)

const rss = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Diario Ejemplo</title>
  <link>https://diario.example</link>
  <item>
    <title>El puente costó 50 millones</title>
    <link>https://diario.example/puente</link>
    <description><![CDATA[<p>El ministro afirmó que el <b>puente</b> costó 50 millones.</p><script>track()</script>]]></description>
    <pubDate>Mon, 03 Mar 2025 10:00:00 +0000</pubDate>
  </item>
  <item>
    <title>Sin enlace</title>
    <description>Texto</description>
  </item>
</channel>
</rss>`

func TestPollerReturnsOnlyUnseenItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rss))
	}))
	defer srv.Close()

	p := feed.NewPoller([]string{srv.URL}, feed.Options{SourceType: models.SourceOfficial}, logger.Discard())

	docs, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	require.Equal(t, "El puente costó 50 millones", doc.Title)
	require.Equal(t, "https://diario.example/puente", doc.URL)
	require.Equal(t, "El ministro afirmó que el puente costó 50 millones.", doc.Content)
	require.Equal(t, "Diario Ejemplo", doc.Source)
	require.Equal(t, "official", doc.SourceType)
	require.Equal(t, "2025-03-03T10:00:00Z", doc.PublishedDate)
	require.NoError(t, models.ValidateRaw(doc))

	p.MarkSeen(doc)
	docs, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestPollerJoinsFeedErrors(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rss))
	}))
	defer good.Close()

	p := feed.NewPoller([]string{bad.URL, good.URL}, feed.Options{RequestTimeout: time.Second}, logger.Discard())
	docs, err := p.Poll(context.Background())
	require.Error(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "media", docs[0].SourceType)
}

func TestPlainText(t *testing.T) {
	require.Equal(t, "", feed.PlainText("  "))
	require.Equal(t, "uno dos", feed.PlainText("<div>uno <i>dos</i></div><style>p{}</style>"))
	require.Equal(t, "texto plano", feed.PlainText("texto   plano"))
}
