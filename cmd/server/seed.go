package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moodjournal/internal/logger"
	"github.com/moodjournal/internal/service"
	"github.com/moodjournal/internal/store"
	"github.com/spf13/cobra"
)

var (
	seedUsername string
	seedPassword string
	seedDays     int
)

var seedDemoCmd = &cobra.Command{
	Use:   "seed-demo",
	Short: "Create a demo account with sample diary entries (no AI calls)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		defer log.Sync()

		app, err := buildApplication(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer app.close()

		return seedDemo(cmd.Context(), app.tables, cfg.Location(), seedOptions{
			Username: seedUsername,
			Password: seedPassword,
			Days:     seedDays,
			Now:      time.Now(),
			Log:      log,
		}, cmd.OutOrStdout())
	},
}

func init() {
	seedDemoCmd.Flags().StringVar(&seedUsername, "username", "demo", "demo account username")
	seedDemoCmd.Flags().StringVar(&seedPassword, "password", "demo1234", "demo account password")
	seedDemoCmd.Flags().IntVar(&seedDays, "days", 14, "number of past days to fill")
	rootCmd.AddCommand(seedDemoCmd)
}

type seedOptions struct {
	Username string
	Password string
	Days     int
	Now      time.Time
	Log      *logger.Logger
}

var sampleContents = []string{
	"今天早起跑了步，心情不错。",
	"工作上被批评了，有点沮丧。",
	"和朋友吃了晚饭，聊了很久。",
	"一整天都在下雨，哪里也没去。",
	"项目终于上线了，松了一口气。",
	"失眠到很晚，白天没什么精神。",
	"给家里打了电话，感觉很温暖。",
}

var sampleAdvice = []string{
	"保持这样的节奏，也别忘了休息。",
	"被批评不等于被否定，试着把它当作一次反馈。",
	"珍惜这样的时刻，它们会在低落时支撑你。",
	"安静的日子也可以很好，给自己泡杯热茶吧。",
	"你已经很努力了，今晚好好犒劳一下自己。",
	"睡前放下手机，试试做几次深呼吸。",
	"把这份温暖记下来，需要的时候再翻出来看看。",
}

// cannedCompleter 按顺序返回预置的建议，格式与模型输出一致。
type cannedCompleter struct {
	mu sync.Mutex
	n  int
}

func (c *cannedCompleter) Complete(context.Context, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	advice := sampleAdvice[c.n%len(sampleAdvice)]
	score := service.MinScore + (c.n*3)%service.MaxScore
	c.n++
	return fmt.Sprintf("%s%s%d", advice, service.AdviceDelimiter, score), nil
}

// seedDemo 通过 EntryService 写入示例日记，已存在的日期会跳过。
func seedDemo(ctx context.Context, tables store.TableStore, loc *time.Location, opts seedOptions, out io.Writer) error {
	if opts.Days <= 0 {
		return errors.New("days must be positive")
	}

	identities := service.NewIdentityService(tables, opts.Log)
	owner, err := identities.Register(ctx, opts.Username, opts.Password, "体验用户")
	switch {
	case errors.Is(err, service.ErrDuplicateHandle):
		owner, err = identities.Authenticate(ctx, opts.Username, opts.Password)
		if err != nil {
			return fmt.Errorf("demo account exists but cannot sign in: %w", err)
		}
		fmt.Fprintln(out, "用户已存在，跳过创建")
	case err != nil:
		return fmt.Errorf("create demo account: %w", err)
	default:
		fmt.Fprintf(out, "✅ 体验账号创建完成：%s\n", owner.Username)
	}

	now := func() time.Time { return opts.Now }
	digest := service.NewDigestService(tables, loc, opts.Log)
	digest.SetNow(now)
	advice := service.NewAdviceService(&cannedCompleter{}, nil, time.Second, opts.Log)
	entries := service.NewEntryService(tables, digest, advice, loc, service.DefaultLookbackDays, opts.Log)
	entries.SetNow(now)

	today := entries.Today()
	created := 0
	for i := opts.Days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i)
		resolution, err := entries.Resolve(ctx, *owner, date)
		if err != nil {
			return err
		}
		if resolution.State == service.EntryPresent {
			continue
		}
		content := sampleContents[(opts.Days-1-i)%len(sampleContents)]
		if _, err := entries.Submit(ctx, *owner, date, content); err != nil {
			return fmt.Errorf("seed %s: %w", date.Format("2006-01-02"), err)
		}
		created++
	}

	fmt.Fprintf(out, "✅ 示例日记生成完成：%d 篇\n", created)
	return nil
}
