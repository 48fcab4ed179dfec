package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	snapshotLimit      = 8000
	defaultWaitSeconds = 2
	maxWaitSeconds     = 30
)

// ChromeOpener 在本地启动一个 Chrome 实例，以内置工具集的形式提供浏览器操作。
type ChromeOpener struct {
	Headless  bool
	ExecPath  string
	UserAgent string
}

// Open 启动浏览器并返回会话。
func (o *ChromeOpener) Open(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}

	// 浏览器的生命周期跟随会话，而不是跟随打开它的请求。
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("启动 Chrome 失败: %w", err)
	}

	return &chromeSession{
		browser: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}, nil
}

type chromeSession struct {
	browser context.Context
	cancel  func()
	once    sync.Once
}

var chromeTools = []Tool{
	{
		Name:        "browser_navigate",
		Description: "Open a URL in the current tab.",
		InputSchema: []byte(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
	},
	{
		Name:        "browser_snapshot",
		Description: "Return the page title, URL and visible text of the current tab.",
		InputSchema: []byte(`{"type":"object","properties":{}}`),
	},
	{
		Name:        "browser_click",
		Description: "Click the first element matching a CSS selector.",
		InputSchema: []byte(`{"type":"object","properties":{"selector":{"type":"string"}},"required":["selector"]}`),
	},
	{
		Name:        "browser_type",
		Description: "Type text into the element matching a CSS selector, optionally pressing Enter.",
		InputSchema: []byte(`{"type":"object","properties":{"selector":{"type":"string"},"text":{"type":"string"},"submit":{"type":"boolean"}},"required":["selector","text"]}`),
	},
	{
		Name:        "browser_wait",
		Description: "Wait until a CSS selector is visible, or for a number of seconds.",
		InputSchema: []byte(`{"type":"object","properties":{"selector":{"type":"string"},"seconds":{"type":"number"}}}`),
	},
}

func (s *chromeSession) Tools(context.Context) ([]Tool, error) {
	out := make([]Tool, len(chromeTools))
	copy(out, chromeTools)
	return out, nil
}

func (s *chromeSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	actions, render, err := s.plan(name, args)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(s.browser)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return "", fmt.Errorf("%s 执行失败: %w", name, err)
	}
	return render(), nil
}

func (s *chromeSession) plan(name string, args map[string]any) ([]chromedp.Action, func() string, error) {
	switch name {
	case "browser_navigate":
		url, err := requireString(args, "url")
		if err != nil {
			return nil, nil, err
		}
		return []chromedp.Action{chromedp.Navigate(url)}, func() string { return "navigated to " + url }, nil

	case "browser_snapshot":
		var title, location, text string
		actions := []chromedp.Action{
			chromedp.Title(&title),
			chromedp.Location(&location),
			chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
		}
		return actions, func() string {
			return fmt.Sprintf("title: %s\nurl: %s\n\n%s", title, location, clip(text, snapshotLimit))
		}, nil

	case "browser_click":
		selector, err := requireString(args, "selector")
		if err != nil {
			return nil, nil, err
		}
		return []chromedp.Action{chromedp.Click(selector, chromedp.ByQuery)}, func() string { return "clicked " + selector }, nil

	case "browser_type":
		selector, err := requireString(args, "selector")
		if err != nil {
			return nil, nil, err
		}
		text, err := requireString(args, "text")
		if err != nil {
			return nil, nil, err
		}
		if submit, _ := args["submit"].(bool); submit {
			text += "\r"
		}
		return []chromedp.Action{chromedp.SendKeys(selector, text, chromedp.ByQuery)}, func() string { return "typed into " + selector }, nil

	case "browser_wait":
		if selector, _ := args["selector"].(string); strings.TrimSpace(selector) != "" {
			return []chromedp.Action{chromedp.WaitVisible(selector, chromedp.ByQuery)}, func() string { return selector + " is visible" }, nil
		}
		seconds := defaultWaitSeconds
		if v, ok := args["seconds"].(float64); ok && v > 0 {
			seconds = int(v)
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		wait := time.Duration(seconds) * time.Second
		return []chromedp.Action{chromedp.Sleep(wait)}, func() string { return fmt.Sprintf("waited %s", wait) }, nil
	}
	return nil, nil, fmt.Errorf("未知的浏览器工具: %s", name)
}

func (s *chromeSession) Close() error {
	s.once.Do(func() {
		if s.browser != nil {
			_ = chromedp.Cancel(s.browser)
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}

func requireString(args map[string]any, key string) (string, error) {
	value, _ := args[key].(string)
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("缺少参数 %s", key)
	}
	return value, nil
}

func clip(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "\n[truncated]"
}
