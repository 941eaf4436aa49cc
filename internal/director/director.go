package director

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/botcast/gocast/internal/store"
	"github.com/botcast/gocast/pkg/sigchan"
)

var log = logrus.WithField("component", "director")

// Director 持有共享的导演指令便签列表
// 交互管线只读内存列表（最新一条生效）；持久化仅作审计回放，不参与实时消费
type Director struct {
	backend store.Backend

	mu    sync.RWMutex
	notes []string

	wake *sigchan.Chan // 新指令信号，管线可以借此缩短等待
}

func New(backend store.Backend) *Director {
	return &Director{
		backend: backend,
		wake:    sigchan.New(1),
	}
}

// Notify 追加一条导演指令：先进内存列表（立即对所有 bot 生效），再落库审计
// 落库失败只记日志，不影响内存列表
func (d *Director) Notify(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("指令内容为空")
	}

	d.mu.Lock()
	d.notes = append(d.notes, text)
	d.mu.Unlock()
	d.wake.Emit()

	if err := d.backend.AppendDirectorCommand(ctx, text); err != nil {
		log.Errorf("导演指令落库失败: %v", err)
		return err
	}
	log.Infof("导演指令已添加: %s", text)
	return nil
}

// Notes 返回当前便签列表的副本（最后一条为最新）
func (d *Director) Notes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.notes))
	copy(out, d.notes)
	return out
}

// Wake 返回新指令信号 channel
func (d *Director) Wake() <-chan struct{} {
	return d.wake.C()
}

// Console 行式导演控制台
type Console struct {
	director *Director
	backend  store.Backend

	in  io.Reader
	out io.Writer

	// OnExit 在 --exit 时调用（由编排器注入，用于整体停机）
	OnExit func()
}

func NewConsole(d *Director, backend store.Backend, in io.Reader, out io.Writer) *Console {
	return &Console{director: d, backend: backend, in: in, out: out}
}

const helpText = `
Available commands:
  --notify <message>  : Send a direction to all bots
  --list              : List all active bots
  --history <bot>     : Show recent interactions for a bot
  --help              : Show this help message
  --exit              : Exit the program
`

// Run 运行控制台循环，直到 --exit、输入流结束或 ctx 取消
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	fmt.Fprint(c.out, "Director> ")

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "--notify "):
			msg := strings.TrimPrefix(line, "--notify ")
			_ = c.director.Notify(ctx, msg)
			fmt.Fprintf(c.out, "Director instruction added: %s\n", msg)

		case line == "--help":
			fmt.Fprint(c.out, helpText)

		case line == "--list":
			c.printBots(ctx)

		case strings.HasPrefix(line, "--history "):
			botName := strings.TrimSpace(strings.TrimPrefix(line, "--history "))
			c.printHistory(ctx, botName)

		case line == "--exit":
			fmt.Fprintln(c.out, "Shutting down...")
			if c.OnExit != nil {
				c.OnExit()
			}
			return nil

		case line != "":
			fmt.Fprintln(c.out, "Unknown command. Type --help for available commands.")
		}

		fmt.Fprint(c.out, "Director> ")
	}
	return scanner.Err()
}

func (c *Console) printBots(ctx context.Context) {
	bots, err := c.backend.ListBots(ctx)
	if err != nil {
		log.Errorf("读取 bot 列表失败: %v", err)
		return
	}
	fmt.Fprintln(c.out, "\nActive bots:")
	for _, b := range bots {
		fmt.Fprintf(c.out, "- %s on %s (%s, %s)\n", b.Name, b.Platform, b.Persona, b.Gender)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printHistory(ctx context.Context, botName string) {
	logs, err := c.backend.RecentInteractions(ctx, botName, 5)
	if err != nil {
		log.Errorf("读取交互历史失败: %v", err)
		return
	}
	if len(logs) == 0 {
		fmt.Fprintf(c.out, "No history found for bot %s\n", botName)
		return
	}
	fmt.Fprintf(c.out, "\nRecent interactions for %s:\n", botName)
	for _, l := range logs {
		fmt.Fprintf(c.out, "[%s]\n", l.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(c.out, "Input: %s\n", l.Input)
		fmt.Fprintf(c.out, "Response: %s\n\n", l.Response)
	}
}
