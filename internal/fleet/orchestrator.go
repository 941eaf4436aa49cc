package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/botcast/gocast/internal/browser"
	"github.com/botcast/gocast/internal/director"
	"github.com/botcast/gocast/internal/domain"
	"github.com/botcast/gocast/internal/pipeline"
	"github.com/botcast/gocast/internal/providers"
	"github.com/botcast/gocast/internal/store"
	"github.com/botcast/gocast/internal/stream"
	"github.com/botcast/gocast/pkg/config"
)

var log = logrus.WithField("component", "fleet")

// defaultRoster 出厂人设，首次启动时轮转分配到各平台
var defaultRoster = []struct {
	Persona string
	Gender  string
}{
	{"Logical Atheist", domain.GenderMale},
	{"Cheerful Spiritual", domain.GenderFemale},
	{"Skeptical Philosopher", domain.GenderRandom},
	{"Empathetic Listener", domain.GenderRandom},
}

// Orchestrator 机群编排器：持有全部 bot、编码器与交互管线的生命周期
type Orchestrator struct {
	cfg     *config.Config
	backend store.Backend

	// Provisioner 可选；配置后新建号的 bot 会走浏览器开号流程
	Provisioner *browser.Provisioner

	dir  *director.Director
	pipe *pipeline.Pipeline

	mu       sync.Mutex
	bots     []pipeline.Bot
	encoders map[string]*stream.Encoder // key: bot name

	runID string // 本次运行的唯一标识，用于日志关联

	cancel   context.CancelFunc
	pipeDone chan struct{}
	stopOnce sync.Once
	started  bool
}

func New(cfg *config.Config, backend store.Backend) *Orchestrator {
	d := director.New(backend)
	delay := time.Duration(cfg.InteractionDelayMS) * time.Millisecond

	seed := time.Now().UnixNano()
	pipe := pipeline.New(
		providers.NewSimulatedASR(seed),
		providers.NewSimulatedResponder(seed+1),
		providers.NewSimulatedSynthesizer(),
		backend, d, delay,
	)

	return &Orchestrator{
		cfg:      cfg,
		backend:  backend,
		dir:      d,
		pipe:     pipe,
		encoders: make(map[string]*stream.Encoder),
		runID:    uuid.NewString(),
	}
}

// RunID 本次运行的唯一标识
func (o *Orchestrator) RunID() string { return o.runID }

// Director 返回共享的导演指令通道（控制台与控制面共用）
func (o *Orchestrator) Director() *director.Director { return o.dir }

// Backend 暴露持久化层（控制面查询历史用）
func (o *Orchestrator) Backend() store.Backend { return o.backend }

// Start 启动机群：建表 → 加载/铺设账号 → 拉起编码器 → 启动交互管线
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return fmt.Errorf("fleet already started")
	}

	if err := o.backend.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	accounts, err := o.backend.ListBots(ctx)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	if len(accounts) == 0 {
		accounts, err = o.seedRoster(ctx)
		if err != nil {
			return fmt.Errorf("seed roster: %w", err)
		}
	}
	log.Infof("账号就绪: %d 个 bot", len(accounts))

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel

	// 逐个拉起编码器；单个 bot 启动失败不拖垮整个机群
	for _, acc := range accounts {
		enc, err := stream.Start(stream.StartOptions{
			BotName:        acc.Name,
			EncoderPath:    o.cfg.EncoderPath,
			Options:        o.cfg.Encoder,
			BackgroundPath: o.cfg.BackgroundPath,
			StreamKey:      acc.StreamKey,
		})
		if err != nil {
			log.Errorf("编码器启动失败，bot 不上线: bot=%s err=%v", acc.Name, err)
			continue
		}
		o.encoders[acc.Name] = enc
		o.bots = append(o.bots, pipeline.Bot{Account: acc, Encoder: enc})
	}

	o.pipeDone = make(chan struct{})
	bots := make([]pipeline.Bot, len(o.bots))
	copy(bots, o.bots)
	go func() {
		defer close(o.pipeDone)
		o.pipe.Run(runCtx, bots)
	}()

	o.started = true
	log.Infof("🚀 机群已启动: run=%s, %d 个 bot 在线", o.runID, len(o.bots))
	return nil
}

// seedRoster 首次启动：把出厂人设轮转分配到配置的平台上并落库
func (o *Orchestrator) seedRoster(ctx context.Context) ([]domain.BotAccount, error) {
	log.Info("数据库为空，铺设出厂账号")

	var accounts []domain.BotAccount
	for i, r := range defaultRoster {
		platform := o.cfg.Platforms[i%len(o.cfg.Platforms)]
		n := i + 1
		acc := domain.BotAccount{
			Name:      fmt.Sprintf("Bot%d", n),
			Platform:  platform.Name,
			Username:  fmt.Sprintf("bot%d_%s", n, platform.Name),
			Password:  fmt.Sprintf("securePassword%d", n),
			SignupURL: platform.AccountCreationURL,
			StreamKey: platform.RTMPTemplate + fmt.Sprintf("BOT_%d_KEY", n),
			Persona:   r.Persona,
			Gender:    r.Gender,
		}

		if o.Provisioner != nil {
			// 开号失败不致命：账号仍落库，后续可人工补办
			if err := o.Provisioner.ProvisionAccount(ctx, acc); err != nil {
				log.Errorf("浏览器开号失败: bot=%s platform=%s err=%v", acc.Name, acc.Platform, err)
			}
		}
		if err := o.backend.UpsertBot(ctx, acc); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// AddDirectorCommand 下发一条导演指令（控制面 API 入口）
func (o *Orchestrator) AddDirectorCommand(ctx context.Context, text string) error {
	return o.dir.Notify(ctx, text)
}

// Status 机群运行状态快照
func (o *Orchestrator) Status() []domain.BotStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.BotStatus, 0, len(o.bots))
	for _, b := range o.bots {
		running := false
		if enc, ok := o.encoders[b.Account.Name]; ok {
			running = enc.Running()
		}
		out = append(out, domain.BotStatus{
			Name:     b.Account.Name,
			Platform: b.Account.Platform,
			Persona:  b.Account.Persona,
			Gender:   b.Account.Gender,
			Running:  running,
		})
	}
	return out
}

// Stop 有序停机：先停管线，再杀编码器，最后关持久化；幂等
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		log.Info("🛑 机群停机中...")

		if o.cancel != nil {
			o.cancel()
		}
		if o.pipeDone != nil {
			select {
			case <-o.pipeDone:
			case <-time.After(10 * time.Second):
				log.Warn("交互管线退出超时")
			}
		}

		o.mu.Lock()
		for name, enc := range o.encoders {
			if err := enc.Stop(); err != nil {
				log.Errorf("编码器停止失败: bot=%s err=%v", name, err)
			}
		}
		o.mu.Unlock()

		if err := o.backend.Close(); err != nil {
			log.Errorf("持久化关闭失败: %v", err)
		}
		log.Info("机群已停机")
	})
}
