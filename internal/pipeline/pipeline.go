package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/botcast/gocast/internal/director"
	"github.com/botcast/gocast/internal/domain"
	"github.com/botcast/gocast/internal/providers"
	"github.com/botcast/gocast/internal/store"
	"github.com/botcast/gocast/internal/stream"
)

var log = logrus.WithField("component", "pipeline")

// EncoderSink 管线对编码器的最小依赖（便于测试替换）
type EncoderSink interface {
	Write(buf []byte) error
	Running() bool
}

// Bot 管线视角下的一个活跃 bot：账号信息 + 它的编码器
type Bot struct {
	Account domain.BotAccount
	Encoder EncoderSink
}

// Pipeline 驱动整个车队的交互循环
// 单 goroutine 顺序处理所有 bot：捕获 → 生成 → 合成 → 推流 → 落库
// 任一 bot 的任一步失败只跳过该 bot 本周期，不影响其他 bot
type Pipeline struct {
	asr      providers.ASRProvider
	llm      providers.ResponseGenerator
	tts      providers.SpeechSynthesizer
	backend  store.Backend
	director *director.Director

	delay time.Duration
}

func New(asr providers.ASRProvider, llm providers.ResponseGenerator, tts providers.SpeechSynthesizer,
	backend store.Backend, d *director.Director, delay time.Duration) *Pipeline {
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &Pipeline{
		asr:      asr,
		llm:      llm,
		tts:      tts,
		backend:  backend,
		director: d,
		delay:    delay,
	}
}

// Run 循环执行交互周期直到 ctx 取消
// 每个周期结束后等待固定间隔；新的导演指令会提前唤醒下一个周期
func (p *Pipeline) Run(ctx context.Context, bots []Bot) {
	log.Infof("交互管线启动: %d 个 bot, 周期间隔 %s", len(bots), p.delay)

	for {
		p.RunCycle(ctx, bots)

		select {
		case <-ctx.Done():
			log.Info("交互管线退出")
			return
		case <-p.director.Wake():
			log.Debug("收到导演指令，提前进入下一周期")
		case <-time.After(p.delay):
		}
	}
}

// RunCycle 对每个 bot 顺序执行一次完整交互
func (p *Pipeline) RunCycle(ctx context.Context, bots []Bot) {
	notes := p.director.Notes()

	for i := range bots {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.stepBot(ctx, &bots[i], notes)
	}
}

// stepBot 单个 bot 的一次交互；错误边界在这里
func (p *Pipeline) stepBot(ctx context.Context, bot *Bot, notes []string) {
	name := bot.Account.Name

	if bot.Encoder != nil && !bot.Encoder.Running() {
		log.Warnf("编码器已退出，跳过: bot=%s", name)
		return
	}

	input, err := p.asr.Transcribe(ctx, name)
	if err != nil {
		log.Errorf("语音转写失败: bot=%s err=%v", name, err)
		return
	}
	if input == "" {
		// 本周期没有观众输入
		return
	}

	reply, err := p.llm.Generate(ctx, providers.ReplyRequest{
		Input:         input,
		Persona:       bot.Account.Persona,
		Gender:        bot.Account.Gender,
		DirectorNotes: notes,
	})
	if err != nil {
		log.Errorf("回复生成失败: bot=%s err=%v", name, err)
		return
	}

	audio, err := p.tts.Synthesize(ctx, reply)
	if err != nil {
		log.Errorf("语音合成失败: bot=%s err=%v", name, err)
		return
	}

	if bot.Encoder != nil {
		if err := bot.Encoder.Write(audio); err != nil {
			log.Errorf("推流写入失败: bot=%s err=%v", name, err)
			return
		}
	}

	if err := p.backend.AppendInteraction(ctx, domain.InteractionLog{
		BotName:  name,
		Gender:   bot.Account.Gender,
		Platform: bot.Account.Platform,
		Input:    input,
		Response: reply,
	}); err != nil {
		log.Errorf("交互落库失败: bot=%s err=%v", name, err)
	}

	log.Infof("交互完成: bot=%s input=%q", name, input)
}

var _ EncoderSink = (*stream.Encoder)(nil)
