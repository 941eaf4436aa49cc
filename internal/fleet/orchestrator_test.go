package fleet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/botcast/gocast/internal/store"
	"github.com/botcast/gocast/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Platforms = []config.PlatformConfig{
		{Name: "tiktok", RTMPTemplate: "rtmp://live.tiktok.com/live/"},
		{Name: "youtube", RTMPTemplate: "rtmp://a.rtmp.youtube.com/live2/"},
	}
	// cat 代替真实编码器：参数模板留空，只剩背景与推流地址两个占位参数
	cfg.EncoderPath = "cat"
	cfg.Encoder = config.EncoderOptions{}
	cfg.BackgroundPath = "-"
	cfg.InteractionDelayMS = 50
	return cfg
}

func openBackend(t *testing.T) store.Backend {
	t.Helper()
	b, err := store.Open("sqlite", filepath.Join(t.TempDir(), "fleet.sqlite"))
	if err != nil {
		t.Fatalf("打开存储失败: %v", err)
	}
	return b
}

func TestStartSeedsRosterRoundRobin(t *testing.T) {
	cfg := testConfig(t)
	backend := openBackend(t)

	orch := New(cfg, backend)
	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer orch.Stop()

	bots, err := backend.ListBots(ctx)
	if err != nil {
		t.Fatalf("读取账号失败: %v", err)
	}
	if len(bots) != 4 {
		t.Fatalf("出厂应铺设 4 个账号: %d", len(bots))
	}

	// 两个平台轮转：Bot1/Bot3 → tiktok，Bot2/Bot4 → youtube
	byName := map[string]string{}
	for _, b := range bots {
		byName[b.Name] = b.Platform
	}
	for name, want := range map[string]string{
		"Bot1": "tiktok", "Bot2": "youtube", "Bot3": "tiktok", "Bot4": "youtube",
	} {
		if byName[name] != want {
			t.Errorf("%s 平台不符: got %q want %q", name, byName[name], want)
		}
	}

	for _, b := range bots {
		if b.StreamKey == "" || b.Username == "" || b.Persona == "" {
			t.Errorf("账号字段缺失: %+v", b)
		}
	}

	status := orch.Status()
	if len(status) != 4 {
		t.Fatalf("状态快照应有 4 个 bot: %d", len(status))
	}
	for _, s := range status {
		if !s.Running {
			t.Errorf("编码器应在运行: %+v", s)
		}
	}
}

func TestStartReusesExistingAccounts(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	backend, err := store.Open(cfg.DatabaseEngine, cfg.DatabasePath)
	if err != nil {
		t.Fatalf("打开存储失败: %v", err)
	}
	orch := New(cfg, backend)
	if err := orch.Start(ctx); err != nil {
		t.Fatalf("首次启动失败: %v", err)
	}
	orch.Stop()

	// 第二次启动同一个库：不重复铺设账号
	backend2, err := store.Open(cfg.DatabaseEngine, cfg.DatabasePath)
	if err != nil {
		t.Fatalf("重开存储失败: %v", err)
	}
	orch2 := New(cfg, backend2)
	if err := orch2.Start(ctx); err != nil {
		t.Fatalf("二次启动失败: %v", err)
	}
	defer orch2.Stop()

	bots, err := backend2.ListBots(ctx)
	if err != nil {
		t.Fatalf("读取账号失败: %v", err)
	}
	if len(bots) != 4 {
		t.Fatalf("二次启动后账号数应保持 4: %d", len(bots))
	}
}

func TestStartTwiceFails(t *testing.T) {
	cfg := testConfig(t)
	orch := New(cfg, openBackend(t))
	ctx := context.Background()

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer orch.Stop()

	if err := orch.Start(ctx); err == nil {
		t.Fatal("重复启动应报错")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	orch := New(cfg, openBackend(t))

	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}

	done := make(chan struct{})
	go func() {
		orch.Stop()
		orch.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("停机超时")
	}
}

func TestDirectorCommandFlow(t *testing.T) {
	cfg := testConfig(t)
	backend := openBackend(t)
	orch := New(cfg, backend)
	ctx := context.Background()

	if err := orch.Start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer orch.Stop()

	if err := orch.AddDirectorCommand(ctx, "focus on space"); err != nil {
		t.Fatalf("下发导演指令失败: %v", err)
	}

	cmds, err := backend.RecentDirectorCommands(ctx, 1)
	if err != nil || len(cmds) != 1 {
		t.Fatalf("指令应已落库: %v", err)
	}
	if cmds[0].Command != "focus on space" {
		t.Errorf("指令内容不符: %q", cmds[0].Command)
	}

	notes := orch.Director().Notes()
	if len(notes) != 1 || notes[0] != "focus on space" {
		t.Errorf("内存便签不符: %v", notes)
	}
}
