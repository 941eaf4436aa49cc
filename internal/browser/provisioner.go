package browser

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/botcast/gocast/internal/captcha"
	"github.com/botcast/gocast/internal/domain"
	"github.com/botcast/gocast/internal/store"
	"github.com/botcast/gocast/pkg/secretstore"
)

// Provisioner 用无头浏览器走平台注册流程开通 bot 账号
// 每个账号一个独立浏览器会话，流程结束（无论成败）会话必定被回收
type Provisioner struct {
	ChromePath string
	Solver     *captcha.Client
	Secrets    *secretstore.Store
	Backend    store.Backend
}

// detectSiteKeyJS 在页面上找 reCAPTCHA 容器的 data-sitekey；找不到返回空串
const detectSiteKeyJS = `(function(){
  var el = document.querySelector('.g-recaptcha[data-sitekey]') ||
           document.querySelector('[data-sitekey]');
  return el ? (el.getAttribute('data-sitekey') || '') : '';
})()`

// ProvisionAccount 为一个 bot 执行完整开号流程：
// 打开注册页 → 识别并求解人机验证 → 注入 token → 填表提交 → 凭据入库
// 返回错误时上层按"该 bot 不可用"处理，不影响其他 bot
func (p *Provisioner) ProvisionAccount(ctx context.Context, bot domain.BotAccount) (err error) {
	if bot.SignupURL == "" {
		return errors.Errorf("bot %s/%s has no signup url", bot.Name, bot.Platform)
	}

	session, err := Launch(ctx, p.ChromePath)
	if err != nil {
		return errors.Wrap(err, "launch browser")
	}
	// 无论流程走到哪一步，浏览器都要回收
	defer func() {
		if cerr := session.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	log.Infof("开始开号: bot=%s platform=%s url=%s", bot.Name, bot.Platform, bot.SignupURL)

	if err := session.Navigate(ctx, bot.SignupURL); err != nil {
		return errors.Wrap(err, "open signup page")
	}

	siteKey, err := session.Evaluate(ctx, detectSiteKeyJS)
	if err != nil {
		return errors.Wrap(err, "detect captcha sitekey")
	}

	if siteKey != "" {
		if p.Solver == nil {
			return errors.New("signup page requires captcha but no solver is configured")
		}
		log.Infof("检测到人机验证: bot=%s sitekey=%s", bot.Name, siteKey)

		token, err := p.Solver.Solve(ctx, siteKey, bot.SignupURL)
		if err != nil {
			return errors.Wrap(err, "solve captcha")
		}
		if err := p.injectToken(ctx, session, token); err != nil {
			return err
		}
	}

	if err := p.fillAndSubmit(ctx, session, bot); err != nil {
		return err
	}

	if p.Secrets != nil {
		key := secretstore.BotCredentialKey(bot.Name, bot.Platform)
		if err := p.Secrets.SetString(key, bot.Password); err != nil {
			return errors.Wrap(err, "store credential")
		}
	}
	if p.Backend != nil {
		if err := p.Backend.UpsertBot(ctx, bot); err != nil {
			return errors.Wrap(err, "persist bot account")
		}
	}

	log.Infof("开号完成: bot=%s platform=%s", bot.Name, bot.Platform)
	return nil
}

// injectToken 把求解结果写进 g-recaptcha-response 并触发回调
func (p *Provisioner) injectToken(ctx context.Context, session *Session, token string) error {
	js := fmt.Sprintf(`(function(){
  var ta = document.querySelector('textarea[name="g-recaptcha-response"]') ||
           document.getElementById('g-recaptcha-response');
  if (!ta) { return 'missing'; }
  ta.style.display = 'block';
  ta.value = %q;
  ta.dispatchEvent(new Event('change', {bubbles: true}));
  return 'ok';
})()`, token)

	result, err := session.Evaluate(ctx, js)
	if err != nil {
		return errors.Wrap(err, "inject captcha token")
	}
	if result != "ok" {
		return errors.New("inject captcha token: response field not found")
	}
	return nil
}

// fillAndSubmit 按常见注册表单的字段名填入凭据并提交
// 各平台的具体页面结构差异大，这里只做尽力填充；字段缺失不算失败
func (p *Provisioner) fillAndSubmit(ctx context.Context, session *Session, bot domain.BotAccount) error {
	js := fmt.Sprintf(`(function(){
  function set(sel, val) {
    var el = document.querySelector(sel);
    if (!el) { return false; }
    el.value = val;
    el.dispatchEvent(new Event('input', {bubbles: true}));
    return true;
  }
  set('input[name="username"], input[name="email"], input[type="email"]', %q);
  set('input[name="password"], input[type="password"]', %q);
  var form = document.querySelector('form');
  if (form) { form.requestSubmit ? form.requestSubmit() : form.submit(); return 'submitted'; }
  return 'no-form';
})()`, bot.Username, bot.Password)

	result, err := session.Evaluate(ctx, js)
	if err != nil {
		return errors.Wrap(err, "fill signup form")
	}
	if result != "submitted" {
		log.Warnf("注册页没有表单可提交: bot=%s platform=%s", bot.Name, bot.Platform)
	}
	return nil
}
