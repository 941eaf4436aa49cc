package captcha

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ERROR_WRONG_USER_KEY")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-key")
	_, err := c.Submit(context.Background(), "sitekey", "https://example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ERROR_WRONG_USER_KEY")
}

func TestSubmitRequiresAPIKey(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "")
	_, err := c.Submit(context.Background(), "sitekey", "https://example.com")
	require.Error(t, err)
}

func TestSolve(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/in.php":
			require.Equal(t, "userrecaptcha", r.URL.Query().Get("method"))
			require.Equal(t, "sitekey-123", r.URL.Query().Get("googlekey"))
			fmt.Fprint(w, "OK|job-42")
		case "/res.php":
			require.Equal(t, "job-42", r.URL.Query().Get("id"))
			// 前两次未就绪，第三次给出 token
			if atomic.AddInt32(&polls, 1) < 3 {
				fmt.Fprint(w, "CAPCHA_NOT_READY")
				return
			}
			fmt.Fprint(w, "OK|the-token")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "api-key")
	c.SetPollPolicy(time.Millisecond, 10)

	token, err := c.Solve(context.Background(), "sitekey-123", "https://example.com/signup")
	require.NoError(t, err)
	require.Equal(t, "the-token", token)
	require.EqualValues(t, 3, atomic.LoadInt32(&polls))
}

func TestPollTimeoutAfterMaxAttempts(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		fmt.Fprint(w, "CAPCHA_NOT_READY")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "api-key")
	c.SetPollPolicy(time.Millisecond, 30)

	_, err := c.Poll(context.Background(), "job-1")
	require.ErrorIs(t, err, ErrTimeout)
	// 恰好轮询到次数上限，不多不少
	require.EqualValues(t, 30, atomic.LoadInt32(&polls))
}

func TestPollServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ERROR_CAPTCHA_UNSOLVABLE")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "api-key")
	c.SetPollPolicy(time.Millisecond, 5)

	_, err := c.Poll(context.Background(), "job-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ERROR_CAPTCHA_UNSOLVABLE")
}

func TestPollHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "CAPCHA_NOT_READY")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "api-key")
	c.SetPollPolicy(50*time.Millisecond, 30)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Poll(ctx, "job-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
