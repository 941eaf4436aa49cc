package stream

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/botcast/gocast/pkg/config"
)

var log = logrus.WithField("component", "stream")

// Encoder owns one encoder subprocess pushing a bot's outbound stream.
// The handle is exclusively owned by the supervisor entry that created it;
// all writes go through Write.
type Encoder struct {
	BotName string

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// writeMu 保证每个 bot 同一时刻最多一个写入在途
	writeMu sync.Mutex

	stopOnce sync.Once
	stopErr  error

	done chan struct{} // 进程退出后关闭
}

// StartOptions carries everything needed to spawn one encoder.
type StartOptions struct {
	BotName        string
	EncoderPath    string // 默认 "ffmpeg"
	Options        config.EncoderOptions
	BackgroundPath string // 静态背景图
	StreamKey      string // 推流地址
}

// BuildArgs assembles the argument vector from the options template.
// Template fields are split on spaces; empty fragments are dropped.
func BuildArgs(opts config.EncoderOptions, backgroundPath, streamKey string) []string {
	var args []string
	appendFields := func(s string) {
		for _, f := range strings.Fields(s) {
			args = append(args, f)
		}
	}
	appendFields(opts.VideoInput)
	args = append(args, backgroundPath)
	appendFields(opts.AudioInput)
	appendFields(opts.VideoCodec)
	appendFields(opts.AudioCodec)
	appendFields(opts.OutputFormat)
	args = append(args, streamKey)
	return args
}

// Start spawns the encoder subprocess with stdin piped and stdout/stderr
// inherited for operator visibility. Spawn failure is returned to the
// caller so the bot is not registered as running.
func Start(opts StartOptions) (*Encoder, error) {
	path := opts.EncoderPath
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}

	args := BuildArgs(opts.Options, opts.BackgroundPath, opts.StreamKey)
	log.Infof("启动编码器: bot=%s dest=%s", opts.BotName, opts.StreamKey)
	log.Debugf("编码器命令: %s %s", path, strings.Join(args, " "))

	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// 单独进程组：stop 时可以整组回收
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("encoder spawn: %w", err)
	}

	e := &Encoder{
		BotName: opts.BotName,
		cmd:     cmd,
		stdin:   stdin,
		done:    make(chan struct{}),
	}

	go func() {
		// Wait 只在进程退出时返回；之后 Running() 变为 false
		_ = cmd.Wait()
		close(e.done)
	}()

	return e, nil
}

// Write pushes one audio buffer into the encoder's stdin. When the OS pipe
// buffer is full the write blocks until the encoder drains it — that is the
// backpressure contract: at most one write in flight per bot, no data
// dropped, no unbounded memory growth.
func (e *Encoder) Write(buf []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	n, err := e.stdin.Write(buf)
	if err != nil {
		return fmt.Errorf("encoder write: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("encoder write: short write %d/%d", n, len(buf))
	}
	log.Debugf("已写入编码器: bot=%s bytes=%d", e.BotName, n)
	return nil
}

// Running reports whether the subprocess is still alive.
func (e *Encoder) Running() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Stop terminates the encoder. Idempotent: killing an already-exited or
// already-killed process never returns an error.
func (e *Encoder) Stop() error {
	e.stopOnce.Do(func() {
		// 先关 stdin，给编码器一个正常收尾的机会
		_ = e.stdin.Close()

		if e.cmd.Process == nil {
			return
		}
		pid := e.cmd.Process.Pid

		select {
		case <-e.done:
			return // 已退出
		default:
		}

		// 先 SIGTERM 整个进程组，进程组不存在则回退单进程
		if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
			_ = unix.Kill(pid, unix.SIGTERM)
		}

		select {
		case <-e.done:
			return
		case <-time.After(3 * time.Second):
		}

		// 再 SIGKILL
		_ = unix.Kill(-pid, unix.SIGKILL)
		_ = unix.Kill(pid, unix.SIGKILL)

		select {
		case <-e.done:
		case <-time.After(2 * time.Second):
			e.stopErr = fmt.Errorf("encoder stop timeout (pid=%d)", pid)
		}
	})
	return e.stopErr
}
