package providers

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/botcast/gocast/internal/domain"
)

// 三个窄接口对应交互管线的外部协作者：语音转写、回复生成、语音合成。
// 管线不对 provider 做重试；返回错误或空结果则该 bot 本周期跳过。

// ASRProvider 语音转写
// 返回空字符串表示本周期没有捕获到输入（不是错误）
type ASRProvider interface {
	Transcribe(ctx context.Context, botName string) (string, error)
}

// ReplyRequest 回复生成请求
type ReplyRequest struct {
	Input         string
	Persona       string
	Gender        string   // M / F / random，random 由 provider 每次调用时解析
	DirectorNotes []string // 最近的导演指令，最后一条为最新
}

// ResponseGenerator 回复生成（LLM 的窄契约）
type ResponseGenerator interface {
	Generate(ctx context.Context, req ReplyRequest) (string, error)
}

// SpeechSynthesizer 语音合成（TTS 的窄契约）
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ResolveGender 把 "random" 解析为 M 或 F（每次调用独立随机）
func ResolveGender(gender string, rng *rand.Rand) string {
	if gender != domain.GenderRandom {
		return gender
	}
	if rng.Float64() > 0.5 {
		return domain.GenderMale
	}
	return domain.GenderFemale
}

// ---- 模拟实现（开发/测试用，生产后端实现同样的接口） ----

// SimulatedASR 轮换返回预置问题
type SimulatedASR struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedASR(seed int64) *SimulatedASR {
	return &SimulatedASR{rng: rand.New(rand.NewSource(seed))}
}

var simulatedQuestions = []string{
	"What is your opinion on consciousness, %s?",
	"How do you feel about artificial intelligence, %s?",
	"Can you explain your perspective on free will, %s?",
	"What are your thoughts on the meaning of life, %s?",
}

func (a *SimulatedASR) Transcribe(_ context.Context, botName string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	q := simulatedQuestions[a.rng.Intn(len(simulatedQuestions))]
	return fmt.Sprintf(q, botName), nil
}

// SimulatedResponder 按人设模板生成回复
// gender 为 random 时每次调用解析为 M 或 F；附加最新一条导演指令
type SimulatedResponder struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedResponder(seed int64) *SimulatedResponder {
	return &SimulatedResponder{rng: rand.New(rand.NewSource(seed))}
}

func (r *SimulatedResponder) Generate(_ context.Context, req ReplyRequest) (string, error) {
	r.mu.Lock()
	effective := ResolveGender(req.Gender, r.rng)
	r.mu.Unlock()

	voiceStyle := "with authority and logic"
	if effective == domain.GenderFemale {
		voiceStyle = "with warmth and empathy"
	}

	directorNote := ""
	if len(req.DirectorNotes) > 0 {
		directorNote = fmt.Sprintf(" (Director note: %s)", req.DirectorNotes[len(req.DirectorNotes)-1])
	}

	reply := fmt.Sprintf("%s responds %s: I think %s is a profound topic that requires careful consideration. Let me share my perspective...%s",
		req.Persona, voiceStyle, req.Input, directorNote)
	return reply, nil
}

// SimulatedSynthesizer 返回 2 秒 16-bit 立体声 44.1kHz 静音
type SimulatedSynthesizer struct{}

func NewSimulatedSynthesizer() *SimulatedSynthesizer { return &SimulatedSynthesizer{} }

// silenceBytes: 44.1kHz 16-bit 立体声静音片段
const silenceBytes = 44100 * 2 * 2

func (s *SimulatedSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}
	return make([]byte, silenceBytes), nil
}
