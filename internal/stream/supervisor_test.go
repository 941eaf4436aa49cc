package stream

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/botcast/gocast/pkg/config"
)

func TestBuildArgs(t *testing.T) {
	opts := config.EncoderOptions{
		VideoInput:   "-re -loop 1 -i",
		AudioInput:   "-f s16le -ar 44100 -ac 2 -i pipe:0",
		VideoCodec:   "-c:v libx264 -preset veryfast",
		AudioCodec:   "-c:a aac -b:a 128k",
		OutputFormat: "-pix_fmt yuv420p -f flv",
	}
	got := BuildArgs(opts, "/data/bg.png", "rtmp://live.example.com/live/KEY")
	want := []string{
		"-re", "-loop", "1", "-i", "/data/bg.png",
		"-f", "s16le", "-ar", "44100", "-ac", "2", "-i", "pipe:0",
		"-c:v", "libx264", "-preset", "veryfast",
		"-c:a", "aac", "-b:a", "128k",
		"-pix_fmt", "yuv420p", "-f", "flv",
		"rtmp://live.example.com/live/KEY",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("参数拼接不符:\ngot:  %v\nwant: %v", got, want)
	}
}

func TestBuildArgsDropsEmptyFragments(t *testing.T) {
	opts := config.EncoderOptions{AudioInput: "  -i   pipe:0  "}
	got := BuildArgs(opts, "bg", "key")
	want := []string{"bg", "-i", "pipe:0", "key"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("空白片段应被丢弃: got %v want %v", got, want)
	}
}

func TestStartFailure(t *testing.T) {
	_, err := Start(StartOptions{
		BotName:     "Bot1",
		EncoderPath: "/nonexistent/encoder-binary",
		StreamKey:   "-",
	})
	if err == nil {
		t.Fatal("不存在的编码器路径应返回错误")
	}
}

// 用 cat 代替真实编码器：从 stdin 读、原样可退出，足以覆盖生命周期
func startCat(t *testing.T) *Encoder {
	t.Helper()
	e, err := Start(StartOptions{
		BotName:        "Bot1",
		EncoderPath:    "cat",
		BackgroundPath: "-",
		StreamKey:      "-",
	})
	if err != nil {
		t.Fatalf("启动测试进程失败: %v", err)
	}
	return e
}

func TestEncoderLifecycle(t *testing.T) {
	e := startCat(t)

	if !e.Running() {
		t.Fatal("刚启动的进程应处于运行状态")
	}

	buf := bytes.Repeat([]byte{0}, 4096)
	if err := e.Write(buf); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("停止失败: %v", err)
	}

	// 等待 Wait goroutine 收尾
	deadline := time.Now().Add(5 * time.Second)
	for e.Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if e.Running() {
		t.Fatal("Stop 之后进程仍在运行")
	}

	// 重复 Stop 必须无副作用
	if err := e.Stop(); err != nil {
		t.Fatalf("重复停止应返回 nil: %v", err)
	}
}

// 管道写满后 Write 必须阻塞到下游消费，而不是丢数据或报错
func TestWriteBackpressure(t *testing.T) {
	e, err := Start(StartOptions{
		BotName:     "Bot1",
		EncoderPath: "sh",
		// sh -c '<script>' <streamKey>：先睡再读，制造一个迟钝的消费者
		Options:        config.EncoderOptions{VideoInput: "-c"},
		BackgroundPath: "sleep 0.5; exec cat >/dev/null",
		StreamKey:      "-",
	})
	if err != nil {
		t.Fatalf("启动测试进程失败: %v", err)
	}
	defer e.Stop()

	// 远超 64KB 管道缓冲，前半段会在消费者醒来前一直阻塞
	buf := bytes.Repeat([]byte{0xAB}, 512*1024)
	start := time.Now()
	if err := e.Write(buf); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("写入未被背压阻塞: 耗时 %v", elapsed)
	}
}

func TestStopAlreadyExited(t *testing.T) {
	e := startCat(t)

	// 关掉 stdin 让 cat 自然退出
	_ = e.stdin.Close()
	select {
	case <-e.done:
	case <-time.After(5 * time.Second):
		t.Fatal("cat 未在预期时间内退出")
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("对已退出进程 Stop 应返回 nil: %v", err)
	}
}
