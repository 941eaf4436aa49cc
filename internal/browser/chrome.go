package browser

import (
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// 常见安装位置，按优先级排列
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"/usr/bin/google-chrome",
	"/usr/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// FindChromePath 定位可执行的 chrome/chromium
// preferred 非空且存在时优先使用
func FindChromePath(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		if _, err := os.Stat(preferred); err == nil {
			return preferred, nil
		}
	}
	for _, c := range chromeCandidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", errors.New("no chrome/chromium executable found; set CHROME_PATH in config")
}
