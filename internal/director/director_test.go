package director

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/botcast/gocast/internal/domain"
	"github.com/botcast/gocast/internal/store"
)

func newTestBackend(t *testing.T) store.Backend {
	t.Helper()
	b, err := store.Open("sqlite", filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("打开存储失败: %v", err)
	}
	if err := b.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNotifyAppendsAndPersists(t *testing.T) {
	backend := newTestBackend(t)
	d := New(backend)
	ctx := context.Background()

	if err := d.Notify(ctx, "talk about space"); err != nil {
		t.Fatalf("Notify 失败: %v", err)
	}
	if err := d.Notify(ctx, "  be cheerful  "); err != nil {
		t.Fatalf("Notify 失败: %v", err)
	}

	notes := d.Notes()
	if len(notes) != 2 {
		t.Fatalf("期望 2 条便签，实际 %d", len(notes))
	}
	// 最新一条在末尾，且已去除首尾空白
	if notes[1] != "be cheerful" {
		t.Errorf("最新便签不符: %q", notes[1])
	}

	cmds, err := backend.RecentDirectorCommands(ctx, 1)
	if err != nil {
		t.Fatalf("读取指令历史失败: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Command != "be cheerful" {
		t.Errorf("持久化的最新指令不符: %+v", cmds)
	}
}

func TestNotifyRejectsEmpty(t *testing.T) {
	d := New(newTestBackend(t))
	if err := d.Notify(context.Background(), "   "); err == nil {
		t.Fatal("空指令应返回错误")
	}
	if len(d.Notes()) != 0 {
		t.Fatal("空指令不应进入便签列表")
	}
}

func TestNotifyEmitsWake(t *testing.T) {
	d := New(newTestBackend(t))
	if err := d.Notify(context.Background(), "wake up"); err != nil {
		t.Fatalf("Notify 失败: %v", err)
	}
	select {
	case <-d.Wake():
	case <-time.After(time.Second):
		t.Fatal("Notify 后应收到唤醒信号")
	}
}

func TestConsoleGrammar(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	if err := backend.UpsertBot(ctx, domain.BotAccount{
		Name: "Bot1", Platform: "tiktok", Persona: "Logical Atheist", Gender: domain.GenderMale,
	}); err != nil {
		t.Fatalf("准备 bot 失败: %v", err)
	}
	if err := backend.AppendInteraction(ctx, domain.InteractionLog{
		BotName: "Bot1", Input: "hello?", Response: "hi there",
	}); err != nil {
		t.Fatalf("准备历史失败: %v", err)
	}

	d := New(backend)
	in := strings.NewReader(strings.Join([]string{
		"--notify focus on philosophy",
		"--list",
		"--history Bot1",
		"--history Nobody",
		"--frobnicate",
		"--help",
		"--exit",
	}, "\n") + "\n")
	var out bytes.Buffer

	exited := false
	console := NewConsole(d, backend, in, &out)
	console.OnExit = func() { exited = true }

	if err := console.Run(ctx); err != nil {
		t.Fatalf("控制台退出异常: %v", err)
	}
	if !exited {
		t.Error("--exit 应触发 OnExit 回调")
	}

	got := out.String()
	for _, want := range []string{
		"Director instruction added: focus on philosophy",
		"- Bot1 on tiktok (Logical Atheist, M)",
		"Input: hello?",
		"Response: hi there",
		"No history found for bot Nobody",
		"Unknown command. Type --help for available commands.",
		"--notify <message>",
		"Shutting down...",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("控制台输出缺少 %q\n完整输出:\n%s", want, got)
		}
	}

	notes := d.Notes()
	if len(notes) != 1 || notes[0] != "focus on philosophy" {
		t.Errorf("便签列表不符: %v", notes)
	}
}

func TestConsoleEOF(t *testing.T) {
	backend := newTestBackend(t)
	console := NewConsole(New(backend), backend, strings.NewReader(""), &bytes.Buffer{})
	if err := console.Run(context.Background()); err != nil {
		t.Fatalf("输入流结束应正常返回: %v", err)
	}
}
