package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var log = logrus.WithField("component", "browser")

// Session 一个无头浏览器会话：chrome 子进程 + 到单个页面 target 的 CDP 连接
// 会话用后即弃：每次开号流程 Launch 一个，结束（成功或失败）必须 Close
type Session struct {
	cmd *exec.Cmd
	ws  *websocket.Conn

	mu     sync.Mutex // serializes command round-trips
	nextID int64

	userDataDir string
	done        chan struct{}
}

type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Launch 启动 chrome --headless 并连接其调试端口上的首个页面 target
func Launch(ctx context.Context, chromePath string) (*Session, error) {
	if strings.TrimSpace(chromePath) == "" {
		var err error
		chromePath, err = FindChromePath("")
		if err != nil {
			return nil, err
		}
	}

	port, err := freePort()
	if err != nil {
		return nil, errors.Wrap(err, "pick debug port")
	}

	userDataDir, err := os.MkdirTemp("", "gocast-chrome-*")
	if err != nil {
		return nil, errors.Wrap(err, "mktemp user data dir")
	}

	cmd := exec.Command(chromePath,
		"--headless=new",
		"--disable-gpu",
		"--no-first-run",
		"--no-default-browser-check",
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		"about:blank",
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(userDataDir)
		return nil, errors.Wrap(err, "spawn chrome")
	}

	s := &Session{cmd: cmd, userDataDir: userDataDir, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(s.done)
	}()

	wsURL, err := waitForTarget(ctx, port)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "dial devtools websocket")
	}
	s.ws = conn

	log.Infof("浏览器会话已建立: pid=%d port=%d", cmd.Process.Pid, port)
	return s, nil
}

// waitForTarget 轮询调试端口直到 chrome 就绪，返回首个页面 target 的 websocket 地址
func waitForTarget(ctx context.Context, port int) (string, error) {
	httpc := resty.New().
		SetBaseURL(fmt.Sprintf("http://127.0.0.1:%d", port)).
		SetTimeout(2 * time.Second)

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}

		resp, err := httpc.R().SetContext(ctx).Get("/json/list")
		if err != nil {
			continue // chrome 还没监听
		}
		var targets []target
		if err := json.Unmarshal(resp.Body(), &targets); err != nil {
			continue
		}
		for _, t := range targets {
			if t.Type == "page" && t.WebSocketDebuggerURL != "" {
				return t.WebSocketDebuggerURL, nil
			}
		}
	}
	return "", errors.New("chrome devtools endpoint did not come up")
}

type cdpRequest struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call 发送一条 CDP 命令并等待对应 id 的响应；穿插到达的事件消息被跳过
func (s *Session) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ws == nil {
		return nil, errors.New("browser session is closed")
	}

	s.nextID++
	id := s.nextID
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.ws.SetWriteDeadline(deadline)
		_ = s.ws.SetReadDeadline(deadline)
	} else {
		_ = s.ws.SetWriteDeadline(time.Now().Add(30 * time.Second))
		_ = s.ws.SetReadDeadline(time.Now().Add(30 * time.Second))
	}

	if err := s.ws.WriteJSON(cdpRequest{ID: id, Method: method, Params: params}); err != nil {
		return nil, errors.Wrapf(err, "cdp write %s", method)
	}

	for {
		var resp cdpResponse
		if err := s.ws.ReadJSON(&resp); err != nil {
			return nil, errors.Wrapf(err, "cdp read %s", method)
		}
		if resp.ID != id {
			continue // event or stale response
		}
		if resp.Error != nil {
			return nil, errors.Errorf("cdp %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
}

// Navigate 打开页面并等待加载完成
func (s *Session) Navigate(ctx context.Context, url string) error {
	if _, err := s.call(ctx, "Page.navigate", map[string]any{"url": url}); err != nil {
		return err
	}

	// 轮询 readyState 而不是订阅事件，省去事件流的状态机
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		state, err := s.Evaluate(ctx, "document.readyState")
		if err == nil && (state == "complete" || state == "interactive") {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return errors.Errorf("navigate %s: page did not finish loading", url)
}

// Evaluate 在页面上下文执行 JS 表达式，返回字符串化的结果值
func (s *Session) Evaluate(ctx context.Context, expression string) (string, error) {
	raw, err := s.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", errors.Wrap(err, "decode evaluate result")
	}
	if result.ExceptionDetails != nil {
		return "", errors.Errorf("evaluate: %s", result.ExceptionDetails.Text)
	}

	switch result.Result.Type {
	case "string":
		var v string
		_ = json.Unmarshal(result.Result.Value, &v)
		return v, nil
	case "undefined":
		return "", nil
	default:
		return string(result.Result.Value), nil
	}
}

// Close 关闭 CDP 连接并回收 chrome 进程；幂等
func (s *Session) Close() error {
	s.mu.Lock()
	if s.ws != nil {
		_ = s.ws.Close()
		s.ws = nil
	}
	s.mu.Unlock()

	if s.cmd != nil && s.cmd.Process != nil {
		pid := s.cmd.Process.Pid
		select {
		case <-s.done:
		default:
			if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
				_ = unix.Kill(pid, unix.SIGTERM)
			}
			select {
			case <-s.done:
			case <-time.After(3 * time.Second):
				_ = unix.Kill(-pid, unix.SIGKILL)
				_ = unix.Kill(pid, unix.SIGKILL)
				<-s.done
			}
		}
	}

	if s.userDataDir != "" {
		_ = os.RemoveAll(s.userDataDir)
		s.userDataDir = ""
	}
	return nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
