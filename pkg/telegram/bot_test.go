package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	var gotPath, gotChat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bot := NewBotWithURL(srv.URL, "token123")
	require.NoError(t, bot.SendMessage(context.Background(), "-100500", "привет"))

	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "-100500", gotChat)
	assert.Equal(t, "привет", gotText)
}

func TestSendMessageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewBotWithURL(srv.URL, "bad").SendMessage(context.Background(), "1", "x")
	assert.ErrorContains(t, err, "403")
}
